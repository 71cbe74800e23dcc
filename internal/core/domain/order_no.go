package domain

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	orderNoPrefix = "SK"
	// A whole random UUID: 122 random bits, so same-millisecond numbers do not collide in practice.
	orderNoSuffixSize = 32
)

// NewOrderNo returns "SK" + unix milliseconds + 32 upper-case hex chars.
// The order store's unique index remains the backstop.
func NewOrderNo(now time.Time) string {
	id := uuid.New()

	var b strings.Builder
	b.Grow(len(orderNoPrefix) + 13 + orderNoSuffixSize)
	b.WriteString(orderNoPrefix)
	b.WriteString(strconv.FormatInt(now.UnixMilli(), 10))
	b.WriteString(strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")))
	return b.String()
}
