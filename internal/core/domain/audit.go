package domain

const (
	AuditActionPurchase = "seckill_purchase"
	AuditTargetOrder    = "order"
)

type AuditEntry struct {
	UserID      int64
	Action      string
	TargetType  string
	TargetID    string
	Details     map[string]any
	OriginAddr  string
	ClientAgent string
}
