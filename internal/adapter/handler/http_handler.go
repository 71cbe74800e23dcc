package handler

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rl1809/seckill/internal/core/domain"
	"github.com/rl1809/seckill/internal/core/service"
)

// UserIDHeader carries the authenticated user id, set by the gateway in front of this service.
const UserIDHeader = "X-User-ID"

// PurchaseService is the part of the seckill service the transports call.
type PurchaseService interface {
	Purchase(ctx context.Context, req service.PurchaseRequest) (*service.PurchaseResult, error)
	GetOrderStatus(ctx context.Context, orderNo string) (*service.OrderStatusResult, error)
}

type HTTPHandler struct {
	seckill PurchaseService
}

type PurchaseHTTPRequest struct {
	ActivityID int64 `json:"activity_id"`
	ProductID  int64 `json:"product_id"`
	Quantity   *int  `json:"quantity"`
}

type PurchaseHTTPResponse struct {
	Success bool       `json:"success"`
	Message string     `json:"message"`
	Data    *OrderView `json:"data,omitempty"`
}

// OrderView is the JSON form of an admitted or materialized order.
type OrderView struct {
	OrderNo         string     `json:"order_no"`
	Status          string     `json:"status"`
	OrderStatus     string     `json:"order_status,omitempty"`
	ActivityID      int64      `json:"activity_id,omitempty"`
	ProductID       int64      `json:"product_id,omitempty"`
	Quantity        int        `json:"quantity,omitempty"`
	UnitPrice       int64      `json:"unit_price,omitempty"`
	TotalAmount     int64      `json:"total_amount,omitempty"`
	PaymentDeadline *time.Time `json:"payment_deadline,omitempty"`
}

func NewHTTPHandler(seckill PurchaseService) *HTTPHandler {
	return &HTTPHandler{seckill: seckill}
}

// Register mounts the seckill routes on r.
func (h *HTTPHandler) Register(r gin.IRouter) {
	r.GET("/health", h.HealthCheck)
	api := r.Group("/api/seckill")
	api.POST("/purchase", h.Purchase)
	api.GET("/orders/:orderNo", h.OrderStatus)
}

func (h *HTTPHandler) Purchase(c *gin.Context) {
	userID, err := strconv.ParseInt(c.GetHeader(UserIDHeader), 10, 64)
	if err != nil || userID <= 0 {
		c.JSON(http.StatusUnauthorized, PurchaseHTTPResponse{Message: "missing or invalid user"})
		return
	}

	var req PurchaseHTTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, PurchaseHTTPResponse{Message: "invalid request body"})
		return
	}
	if req.ActivityID <= 0 || req.ProductID <= 0 {
		c.JSON(http.StatusBadRequest, PurchaseHTTPResponse{Message: "activity_id and product_id are required"})
		return
	}
	quantity := 1
	if req.Quantity != nil {
		quantity = *req.Quantity
	}

	result, err := h.seckill.Purchase(c.Request.Context(), service.PurchaseRequest{
		UserID:      userID,
		ActivityID:  req.ActivityID,
		ProductID:   req.ProductID,
		Quantity:    quantity,
		OriginAddr:  c.ClientIP(),
		ClientAgent: c.Request.UserAgent(),
	})
	if err != nil {
		status, message := httpError(err)
		if status == http.StatusInternalServerError {
			log.Printf("purchase failed for user %d: %v", userID, err)
		}
		c.JSON(status, PurchaseHTTPResponse{Message: message})
		return
	}

	deadline := result.PaymentDeadline
	c.JSON(http.StatusOK, PurchaseHTTPResponse{
		Success: true,
		Message: "purchase accepted",
		Data: &OrderView{
			OrderNo:         result.OrderNo,
			Status:          string(result.Status),
			ActivityID:      result.ActivityID,
			ProductID:       result.ProductID,
			Quantity:        result.Quantity,
			UnitPrice:       result.UnitPrice,
			TotalAmount:     result.TotalAmount,
			PaymentDeadline: &deadline,
		},
	})
}

func (h *HTTPHandler) OrderStatus(c *gin.Context) {
	orderNo := c.Param("orderNo")

	result, err := h.seckill.GetOrderStatus(c.Request.Context(), orderNo)
	if err != nil {
		log.Printf("order status %s: %v", orderNo, err)
		c.JSON(http.StatusInternalServerError, PurchaseHTTPResponse{Message: "internal error"})
		return
	}

	view := &OrderView{OrderNo: result.OrderNo, Status: string(result.Status)}
	if o := result.Order; o != nil {
		deadline := o.PaymentDeadline
		view.OrderStatus = string(o.Status)
		view.ActivityID = o.ActivityID
		view.ProductID = o.ProductID
		view.Quantity = o.Quantity
		view.UnitPrice = o.UnitPrice
		view.TotalAmount = o.TotalAmount
		view.PaymentDeadline = &deadline
	}

	if result.Status == domain.PurchaseStatusNotFound {
		c.JSON(http.StatusNotFound, PurchaseHTTPResponse{Message: "order not found", Data: view})
		return
	}
	c.JSON(http.StatusOK, PurchaseHTTPResponse{Success: true, Message: string(result.Status), Data: view})
}

func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func httpError(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrActivityNotFound):
		return http.StatusNotFound, "activity not found"
	case errors.Is(err, domain.ErrProductNotInActivity):
		return http.StatusNotFound, "product not in activity"
	case errors.Is(err, domain.ErrActivityNotActive):
		return http.StatusForbidden, "activity not active"
	case errors.Is(err, domain.ErrQuotaExceeded):
		return http.StatusConflict, "purchase limit exceeded"
	case errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusGone, "sold out"
	case errors.Is(err, domain.ErrInvalidQuantity):
		return http.StatusBadRequest, "quantity must be at least 1"
	case errors.Is(err, domain.ErrInvalidUser):
		return http.StatusBadRequest, "invalid user"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
