package domain

import "time"

// Reservation identifies one admission's mutation of the counter store.
type Reservation struct {
	UserID     int64
	ActivityID int64
	ProductID  int64
	Quantity   int
	Limit      int
	QuotaTTL   time.Duration
}

func (r Reservation) StockKey() string    { return StockKey(r.ActivityID, r.ProductID) }
func (r Reservation) ReservedKey() string { return ReservedKey(r.ActivityID, r.ProductID) }
func (r Reservation) SoldKey() string     { return SoldKey(r.ActivityID, r.ProductID) }
func (r Reservation) UserKey() string     { return UserQuotaKey(r.UserID, r.ActivityID, r.ProductID) }

type AdmitResult int

const (
	Admitted AdmitResult = iota + 1
	QuotaExceeded
	InsufficientStock
)

func (r AdmitResult) String() string {
	switch r {
	case Admitted:
		return "admitted"
	case QuotaExceeded:
		return "quota_exceeded"
	case InsufficientStock:
		return "insufficient_stock"
	default:
		return "unknown"
	}
}

// Err maps a rejected admission to its sentinel error. Admitted maps to nil.
func (r AdmitResult) Err() error {
	switch r {
	case Admitted:
		return nil
	case QuotaExceeded:
		return ErrQuotaExceeded
	case InsufficientStock:
		return ErrInsufficientStock
	default:
		return ErrUnknownAdmitResult
	}
}

// StockLevel is a point-in-time view of one activity product's counters.
// Available + Reserved + Sold equals the stock loaded at warmup.
type StockLevel struct {
	Available int
	Reserved  int
	Sold      int
}

func (s StockLevel) Total() int {
	return s.Available + s.Reserved + s.Sold
}
