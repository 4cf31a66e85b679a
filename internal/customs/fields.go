package customs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/domain"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/platform/textutil"
)

// Bounds on request decimals. Fifteen integer digits keep any amount representable as int64 minor
// units at three decimal places.
const (
	MaxIntegerDigits  = 15
	MaxFractionDigits = 8
	maxSignificant    = MaxIntegerDigits + MaxFractionDigits
)

// DecimalField parses one numeric request field. JSON numbers and numeric strings are accepted; anything
// else fails closed instead of being carried along as text.
type DecimalField struct {
	Name     string
	Required bool
	Default  decimal.Decimal
}

// Parse decodes raw into a decimal, recording violations on verr.
func (f DecimalField) Parse(raw json.RawMessage, verr *domain.ValidationError) decimal.Decimal {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		if f.Required {
			verr.Add(f.Name, "required", "is required")
		}
		return f.Default
	}

	text := string(trimmed)
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			verr.Add(f.Name, "number", "must be a number")
			return f.Default
		}
		text = strings.TrimSpace(s)
		if text == "" {
			if f.Required {
				verr.Add(f.Name, "required", "is required")
			}
			return f.Default
		}
	}

	value, err := decimal.NewFromString(text)
	if err != nil {
		verr.Add(f.Name, "number", fmt.Sprintf("must be a number, got %q", textutil.Truncate(text, 32)))
		return f.Default
	}
	bounded, ok := bound(value)
	if !ok {
		verr.Add(f.Name, "range", fmt.Sprintf("must have at most %d integer and %d fraction digits", MaxIntegerDigits, MaxFractionDigits))
		return f.Default
	}
	return bounded
}

// bound rejects values whose coefficient or exponent would make later arithmetic unbounded. The
// exponent is checked before any rescale so "1e900000000" never materialises. Trailing fraction zeros
// beyond MaxFractionDigits are dropped.
func bound(value decimal.Decimal) (decimal.Decimal, bool) {
	digits := value.NumDigits()
	exp := value.Exponent()
	if digits > maxSignificant || exp < -maxSignificant || exp > MaxIntegerDigits {
		return decimal.Decimal{}, false
	}
	if int(exp)+digits > MaxIntegerDigits && !value.IsZero() {
		return decimal.Decimal{}, false
	}
	if exp < -MaxFractionDigits {
		rounded := value.Round(MaxFractionDigits)
		if !rounded.Equal(value) {
			return decimal.Decimal{}, false
		}
		value = rounded
	}
	return value, true
}
