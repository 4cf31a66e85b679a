package payments

import (
	"strings"

	"github.com/google/uuid"
)

var idempotencyNamespace = uuid.MustParse("6f1c7a52-3d8e-4b1f-9a0e-2c5d8b7e4f10")

// IdempotencyKey derives a stable key for one gateway operation on one payment, so retries (including
// reconciliation re-running a checkout) reach the gateway with the same key.
func IdempotencyKey(operation string, parts ...string) string {
	name := strings.Join(append([]string{operation}, parts...), ":")
	return uuid.NewSHA1(idempotencyNamespace, []byte(name)).String()
}
