package domain

import "time"

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRefunded  OrderStatus = "refunded"
)

// Order is the durable, authoritative record of a purchase. Amounts are in minor units.
type Order struct {
	ID              int64
	OrderNo         string
	UserID          int64
	ActivityID      int64
	ProductID       int64
	Quantity        int
	UnitPrice       int64
	TotalAmount     int64
	Status          OrderStatus
	PaymentDeadline time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OrderIntent is an admitted purchase that has not been persisted yet.
type OrderIntent struct {
	OrderNo         string    `json:"order_no"`
	UserID          int64     `json:"user_id"`
	ActivityID      int64     `json:"activity_id"`
	ProductID       int64     `json:"product_id"`
	Quantity        int       `json:"quantity"`
	UnitPrice       int64     `json:"unit_price"`
	TotalAmount     int64     `json:"total_amount"`
	PaymentDeadline time.Time `json:"payment_deadline"`
	OriginAddr      string    `json:"origin_addr,omitempty"`
	ClientAgent     string    `json:"client_agent,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Reservation returns the counter mutation this intent was admitted with.
func (i OrderIntent) Reservation() Reservation {
	return Reservation{
		UserID:     i.UserID,
		ActivityID: i.ActivityID,
		ProductID:  i.ProductID,
		Quantity:   i.Quantity,
	}
}

// ToOrder builds the pending order persisted for this intent.
func (i OrderIntent) ToOrder(now time.Time) Order {
	return Order{
		OrderNo:         i.OrderNo,
		UserID:          i.UserID,
		ActivityID:      i.ActivityID,
		ProductID:       i.ProductID,
		Quantity:        i.Quantity,
		UnitPrice:       i.UnitPrice,
		TotalAmount:     i.TotalAmount,
		Status:          OrderStatusPending,
		PaymentDeadline: i.PaymentDeadline,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Matches reports whether o is the order this intent produces.
func (i OrderIntent) Matches(o Order) bool {
	return o.OrderNo == i.OrderNo &&
		o.UserID == i.UserID &&
		o.ActivityID == i.ActivityID &&
		o.ProductID == i.ProductID &&
		o.Quantity == i.Quantity
}

// AuditEntry returns the operation-log record written together with the order.
func (i OrderIntent) AuditEntry() AuditEntry {
	return AuditEntry{
		UserID:     i.UserID,
		Action:     AuditActionPurchase,
		TargetType: AuditTargetOrder,
		TargetID:   i.OrderNo,
		Details: map[string]any{
			"activity_id":  i.ActivityID,
			"product_id":   i.ProductID,
			"quantity":     i.Quantity,
			"unit_price":   i.UnitPrice,
			"total_amount": i.TotalAmount,
		},
		OriginAddr:  i.OriginAddr,
		ClientAgent: i.ClientAgent,
	}
}
