package domain

import "fmt"

const (
	OrderQueueKey          = "order_queue"
	RollbackFailedQueueKey = "order_rollback_failed"
)

func StockKey(activityID, productID int64) string {
	return fmt.Sprintf("seckill:activity:%d:product:%d:stock", activityID, productID)
}

func ReservedKey(activityID, productID int64) string {
	return fmt.Sprintf("seckill:activity:%d:product:%d:reserved", activityID, productID)
}

func SoldKey(activityID, productID int64) string {
	return fmt.Sprintf("seckill:activity:%d:product:%d:sold", activityID, productID)
}

func UserQuotaKey(userID, activityID, productID int64) string {
	return fmt.Sprintf("seckill:user:%d:activity:%d:product:%d", userID, activityID, productID)
}

func ProcessingKey(orderNo string) string {
	return "order_processing:" + orderNo
}
