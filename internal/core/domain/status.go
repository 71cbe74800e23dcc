package domain

type PurchaseStatus string

const (
	PurchaseStatusProcessing   PurchaseStatus = "processing"
	PurchaseStatusMaterialized PurchaseStatus = "materialized"
	PurchaseStatusNotFound     PurchaseStatus = "not_found"
)

// MarkerState is where an order's processing marker is in its lifecycle.
// Only the publisher creates a pending marker; only one worker can claim it.
type MarkerState string

const (
	MarkerAbsent   MarkerState = ""
	MarkerPending  MarkerState = "pending"
	MarkerClaimed  MarkerState = "claimed"
	MarkerResolved MarkerState = "resolved"
)

// InFlight reports whether the intent is queued or being materialized.
func (s MarkerState) InFlight() bool {
	return s == MarkerPending || s == MarkerClaimed
}
