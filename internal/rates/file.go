package rates

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// fileTable mirrors the YAML layout. Numbers are read as strings so that they never pass through float64.
type fileTable struct {
	BaseCurrency    string            `yaml:"baseCurrency"`
	DutyRate        string            `yaml:"dutyRate"`
	TaxRate         string            `yaml:"taxRate"`
	AdditionalFees  string            `yaml:"additionalFees"`
	Precision       map[string]int32  `yaml:"precision"`
	ExchangeRates   map[string]string `yaml:"exchangeRates"`
	TariffDutyRates map[string]string `yaml:"tariffDutyRates"`
}

// LoadFile reads a YAML rate file and layers it over base. Keys absent from the file keep base values.
func LoadFile(path string, base Table) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("rates: read %s: %w", path, err)
	}
	return Parse(data, base)
}

// Parse decodes YAML rate data over base.
func Parse(data []byte, base Table) (Table, error) {
	var raw fileTable
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Table{}, fmt.Errorf("%w: decode yaml: %v", ErrInvalidTable, err)
	}

	table := base.clone()
	if raw.BaseCurrency != "" {
		table.BaseCurrency = normaliseCurrency(raw.BaseCurrency)
	}

	var err error
	if table.DutyRate, err = decimalOr(raw.DutyRate, table.DutyRate, "dutyRate"); err != nil {
		return Table{}, err
	}
	if table.TaxRate, err = decimalOr(raw.TaxRate, table.TaxRate, "taxRate"); err != nil {
		return Table{}, err
	}
	if table.AdditionalFees, err = decimalOr(raw.AdditionalFees, table.AdditionalFees, "additionalFees"); err != nil {
		return Table{}, err
	}
	for code, places := range raw.Precision {
		table.Precision[normaliseCurrency(code)] = places
	}
	for code, value := range raw.ExchangeRates {
		rate, err := decimal.NewFromString(value)
		if err != nil {
			return Table{}, fmt.Errorf("%w: exchangeRates.%s: %v", ErrInvalidTable, code, err)
		}
		table.ExchangeRates[normaliseCurrency(code)] = rate
	}
	for chapter, value := range raw.TariffDutyRates {
		rate, err := decimal.NewFromString(value)
		if err != nil {
			return Table{}, fmt.Errorf("%w: tariffDutyRates.%s: %v", ErrInvalidTable, chapter, err)
		}
		table.TariffDutyRates[tariffChapter(chapter)] = rate
	}

	if err := table.Validate(); err != nil {
		return Table{}, err
	}
	return table, nil
}

func decimalOr(value string, fallback decimal.Decimal, field string) (decimal.Decimal, error) {
	if value == "" {
		return fallback, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s: %v", ErrInvalidTable, field, err)
	}
	return d, nil
}
