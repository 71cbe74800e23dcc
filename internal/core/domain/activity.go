package domain

import "time"

type ActivityStatus string

const (
	ActivityStatusPending   ActivityStatus = "pending"
	ActivityStatusActive    ActivityStatus = "active"
	ActivityStatusEnded     ActivityStatus = "ended"
	ActivityStatusCancelled ActivityStatus = "cancelled"
)

type Activity struct {
	ID        int64
	Name      string
	Status    ActivityStatus
	StartTime time.Time
	EndTime   time.Time
}

// ActiveAt reports whether purchases are accepted at the given instant.
// Both the status flag and the time window must agree.
func (a Activity) ActiveAt(now time.Time) bool {
	if a.Status != ActivityStatusActive {
		return false
	}
	return !now.Before(a.StartTime) && !now.After(a.EndTime)
}

// ActivityProduct is a product offered in an activity, with its stock snapshot
// as last reconciled into the catalog.
type ActivityProduct struct {
	ActivityID         int64
	ProductID          int64
	ProductName        string
	UnitPrice          int64
	MaxPurchasePerUser int
	TotalStock         int
	AvailableStock     int
	ReservedStock      int
	SoldStock          int
	Version            int // optimistic locking
	UpdatedAt          time.Time
}
