package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOrderIntent_Matches(t *testing.T) {
	now := time.Date(2026, 11, 11, 0, 0, 0, 0, time.UTC)
	intent := OrderIntent{
		OrderNo:    "SK1793404800000ABCDEF",
		UserID:     7,
		ActivityID: 1,
		ProductID:  2,
		Quantity:   1,
		UnitPrice:  9900,
	}

	tests := []struct {
		name   string
		mutate func(o *Order)
		want   bool
	}{
		{"own order", func(o *Order) {}, true},
		{"other user", func(o *Order) { o.UserID = 8 }, false},
		{"other product", func(o *Order) { o.ProductID = 3 }, false},
		{"other quantity", func(o *Order) { o.Quantity = 2 }, false},
		{"other number", func(o *Order) { o.OrderNo = "SK1793404800000000000" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := intent.ToOrder(now)
			tt.mutate(&order)
			assert.Equal(t, tt.want, intent.Matches(order))
		})
	}
}
