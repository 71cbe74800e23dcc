package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/seckill/internal/core/domain"
	"github.com/rl1809/seckill/internal/core/service"
)

func newRouter(svc PurchaseService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHTTPHandler(svc).Register(r)
	return r
}

func doRequest(r http.Handler, method, path, userID, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "handler-test")
	if userID != "" {
		req.Header.Set(UserIDHeader, userID)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) PurchaseHTTPResponse {
	t.Helper()
	var resp PurchaseHTTPResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHTTPPurchase_Accepted(t *testing.T) {
	svc := new(mockSeckill)
	svc.On("Purchase", mock.Anything, mock.MatchedBy(func(req service.PurchaseRequest) bool {
		return req.UserID == 1001 && req.ActivityID == 1 && req.ProductID == 2 &&
			req.Quantity == 1 && req.ClientAgent == "handler-test" && req.OriginAddr != ""
	})).Return(&service.PurchaseResult{
		OrderNo:         "SK1762819230000ABC123",
		Status:          domain.PurchaseStatusProcessing,
		ActivityID:      1,
		ProductID:       2,
		Quantity:        1,
		UnitPrice:       9900,
		TotalAmount:     9900,
		PaymentDeadline: deadline,
	}, nil)

	w := doRequest(newRouter(svc), http.MethodPost, "/api/seckill/purchase", "1001",
		`{"activity_id": 1, "product_id": 2}`)

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.True(t, resp.Success)
	require.NotNil(t, resp.Data)
	assert.Equal(t, "SK1762819230000ABC123", resp.Data.OrderNo)
	assert.Equal(t, "processing", resp.Data.Status)
	assert.Equal(t, int64(9900), resp.Data.TotalAmount)
	require.NotNil(t, resp.Data.PaymentDeadline)
	assert.True(t, deadline.Equal(*resp.Data.PaymentDeadline))
	svc.AssertExpectations(t)
}

func TestHTTPPurchase_ErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{domain.ErrActivityNotFound, http.StatusNotFound},
		{domain.ErrProductNotInActivity, http.StatusNotFound},
		{domain.ErrActivityNotActive, http.StatusForbidden},
		{domain.ErrQuotaExceeded, http.StatusConflict},
		{wrapped(domain.ErrInsufficientStock), http.StatusGone},
		{domain.ErrInvalidQuantity, http.StatusBadRequest},
		{errStoreDown, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			svc := new(mockSeckill)
			svc.On("Purchase", mock.Anything, mock.Anything).Return(nil, tt.err)

			w := doRequest(newRouter(svc), http.MethodPost, "/api/seckill/purchase", "7",
				`{"activity_id": 1, "product_id": 2, "quantity": 1}`)

			assert.Equal(t, tt.code, w.Code)
			resp := decode(t, w)
			assert.False(t, resp.Success)
			assert.NotContains(t, resp.Message, "10.0.0.5")
		})
	}
}

func TestHTTPPurchase_BadInput(t *testing.T) {
	svc := new(mockSeckill)
	r := newRouter(svc)

	w := doRequest(r, http.MethodPost, "/api/seckill/purchase", "", `{"activity_id": 1, "product_id": 2}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(r, http.MethodPost, "/api/seckill/purchase", "abc", `{"activity_id": 1, "product_id": 2}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(r, http.MethodPost, "/api/seckill/purchase", "1", `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(r, http.MethodPost, "/api/seckill/purchase", "1", `{"product_id": 2}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	svc.AssertNotCalled(t, "Purchase", mock.Anything, mock.Anything)
}

func TestHTTPPurchase_ExplicitZeroQuantityReachesService(t *testing.T) {
	svc := new(mockSeckill)
	svc.On("Purchase", mock.Anything, mock.MatchedBy(func(req service.PurchaseRequest) bool {
		return req.Quantity == 0
	})).Return(nil, domain.ErrInvalidQuantity)

	w := doRequest(newRouter(svc), http.MethodPost, "/api/seckill/purchase", "1",
		`{"activity_id": 1, "product_id": 2, "quantity": 0}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	svc.AssertExpectations(t)
}

func TestHTTPOrderStatus(t *testing.T) {
	svc := new(mockSeckill)
	svc.On("GetOrderStatus", mock.Anything, "SK1").Return(&service.OrderStatusResult{
		OrderNo: "SK1",
		Status:  domain.PurchaseStatusMaterialized,
		Order: &domain.Order{
			OrderNo:         "SK1",
			Quantity:        2,
			TotalAmount:     19800,
			Status:          domain.OrderStatusPending,
			PaymentDeadline: deadline,
		},
	}, nil)
	svc.On("GetOrderStatus", mock.Anything, "SK2").Return(&service.OrderStatusResult{
		OrderNo: "SK2",
		Status:  domain.PurchaseStatusProcessing,
	}, nil)
	svc.On("GetOrderStatus", mock.Anything, "SK3").Return(&service.OrderStatusResult{
		OrderNo: "SK3",
		Status:  domain.PurchaseStatusNotFound,
	}, nil)
	svc.On("GetOrderStatus", mock.Anything, "SK4").Return(nil, errStoreDown)
	r := newRouter(svc)

	w := doRequest(r, http.MethodGet, "/api/seckill/orders/SK1", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	require.NotNil(t, resp.Data)
	assert.Equal(t, "materialized", resp.Data.Status)
	assert.Equal(t, "pending", resp.Data.OrderStatus)
	assert.Equal(t, int64(19800), resp.Data.TotalAmount)

	w = doRequest(r, http.MethodGet, "/api/seckill/orders/SK2", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "processing", decode(t, w).Data.Status)

	w = doRequest(r, http.MethodGet, "/api/seckill/orders/SK3", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(r, http.MethodGet, "/api/seckill/orders/SK4", "", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHTTPHealth(t *testing.T) {
	w := doRequest(newRouter(new(mockSeckill)), http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}
