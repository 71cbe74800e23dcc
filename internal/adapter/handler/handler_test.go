package handler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/rl1809/seckill/internal/core/service"
)

type mockSeckill struct {
	mock.Mock
}

func (m *mockSeckill) Purchase(ctx context.Context, req service.PurchaseRequest) (*service.PurchaseResult, error) {
	args := m.Called(ctx, req)
	result, _ := args.Get(0).(*service.PurchaseResult)
	return result, args.Error(1)
}

func (m *mockSeckill) GetOrderStatus(ctx context.Context, orderNo string) (*service.OrderStatusResult, error) {
	args := m.Called(ctx, orderNo)
	result, _ := args.Get(0).(*service.OrderStatusResult)
	return result, args.Error(1)
}

var (
	deadline     = time.Date(2026, 11, 11, 0, 15, 0, 0, time.UTC)
	errStoreDown = errors.New("dial tcp 10.0.0.5:6379: connection refused")
)

func wrapped(err error) error {
	return fmt.Errorf("admit: %w", err)
}
