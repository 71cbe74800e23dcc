package handler

import (
	"context"
	"errors"
	"log"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/rl1809/seckill/internal/core/domain"
	"github.com/rl1809/seckill/internal/core/service"
)

const (
	grpcServiceName   = "seckill.v1.SeckillService"
	purchaseMethod    = "/" + grpcServiceName + "/Purchase"
	orderStatusMethod = "/" + grpcServiceName + "/GetOrderStatus"
)

type PurchaseRPCRequest struct {
	UserID     int64
	ActivityID int64
	ProductID  int64
	Quantity   int32
}

// PurchaseRPCResponse reports a business rejection with Success false and a
// stable Reason code. Transport or store failures are returned as gRPC errors.
type PurchaseRPCResponse struct {
	Success         bool
	Message         string
	Reason          string
	OrderNo         string
	Status          string
	TotalAmount     int64
	PaymentDeadline time.Time
}

type OrderStatusRPCRequest struct {
	OrderNo string
}

type OrderStatusRPCResponse struct {
	OrderNo     string
	Status      string
	OrderStatus string
	Quantity    int
	TotalAmount int64
}

// SeckillServer is the server API of seckill.v1.SeckillService.
type SeckillServer interface {
	Purchase(ctx context.Context, req *PurchaseRPCRequest) (*PurchaseRPCResponse, error)
	GetOrderStatus(ctx context.Context, req *OrderStatusRPCRequest) (*OrderStatusRPCResponse, error)
}

type GRPCHandler struct {
	seckill PurchaseService
}

func NewGRPCHandler(seckill PurchaseService) *GRPCHandler {
	return &GRPCHandler{seckill: seckill}
}

func (h *GRPCHandler) Purchase(ctx context.Context, req *PurchaseRPCRequest) (*PurchaseRPCResponse, error) {
	quantity := int(req.Quantity)
	if quantity == 0 {
		quantity = 1
	}

	result, err := h.seckill.Purchase(ctx, service.PurchaseRequest{
		UserID:     req.UserID,
		ActivityID: req.ActivityID,
		ProductID:  req.ProductID,
		Quantity:   quantity,
	})
	if err != nil {
		if !service.IsRejection(err) {
			log.Printf("purchase failed for user %d: %v", req.UserID, err)
			return nil, status.Error(codes.Internal, "internal error")
		}
		_, message := httpError(err)
		return &PurchaseRPCResponse{
			Success: false,
			Message: message,
			Reason:  rejectionReason(err),
		}, nil
	}

	return &PurchaseRPCResponse{
		Success:         true,
		Message:         "purchase accepted",
		OrderNo:         result.OrderNo,
		Status:          string(result.Status),
		TotalAmount:     result.TotalAmount,
		PaymentDeadline: result.PaymentDeadline,
	}, nil
}

func (h *GRPCHandler) GetOrderStatus(ctx context.Context, req *OrderStatusRPCRequest) (*OrderStatusRPCResponse, error) {
	result, err := h.seckill.GetOrderStatus(ctx, req.OrderNo)
	if err != nil {
		log.Printf("order status %s: %v", req.OrderNo, err)
		return nil, status.Error(codes.Internal, "internal error")
	}

	resp := &OrderStatusRPCResponse{OrderNo: result.OrderNo, Status: string(result.Status)}
	if o := result.Order; o != nil {
		resp.OrderStatus = string(o.Status)
		resp.Quantity = o.Quantity
		resp.TotalAmount = o.TotalAmount
	}
	return resp, nil
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrActivityNotFound):
		return "ACTIVITY_NOT_FOUND"
	case errors.Is(err, domain.ErrProductNotInActivity):
		return "PRODUCT_NOT_IN_ACTIVITY"
	case errors.Is(err, domain.ErrActivityNotActive):
		return "ACTIVITY_NOT_ACTIVE"
	case errors.Is(err, domain.ErrQuotaExceeded):
		return "QUOTA_EXCEEDED"
	case errors.Is(err, domain.ErrInsufficientStock):
		return "INSUFFICIENT_STOCK"
	default:
		return "INVALID_ARGUMENT"
	}
}

// RegisterSeckillServer registers srv on s under seckill.v1.SeckillService.
func RegisterSeckillServer(s grpc.ServiceRegistrar, srv SeckillServer) {
	s.RegisterService(&seckillServiceDesc, srv)
}

var seckillServiceDesc = grpc.ServiceDesc{
	ServiceName: grpcServiceName,
	HandlerType: (*SeckillServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Purchase", Handler: purchaseHandler},
		{MethodName: "GetOrderStatus", Handler: orderStatusHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: seckillFile.Path(),
}

func purchaseHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := dynamicpb.NewMessage(purchaseRequestDesc)
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req any) (any, error) {
		resp, err := srv.(SeckillServer).Purchase(ctx, purchaseRequestFromProto(req.(*dynamicpb.Message)))
		if err != nil {
			return nil, err
		}
		return resp.toProto(), nil
	}
	if interceptor == nil {
		return handler(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: purchaseMethod}
	return interceptor(ctx, in, info, handler)
}

func orderStatusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := dynamicpb.NewMessage(orderStatusRequestDesc)
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req any) (any, error) {
		resp, err := srv.(SeckillServer).GetOrderStatus(ctx, orderStatusRequestFromProto(req.(*dynamicpb.Message)))
		if err != nil {
			return nil, err
		}
		return resp.toProto(), nil
	}
	if interceptor == nil {
		return handler(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: orderStatusMethod}
	return interceptor(ctx, in, info, handler)
}

// SeckillClient calls seckill.v1.SeckillService.
type SeckillClient struct {
	cc grpc.ClientConnInterface
}

func NewSeckillClient(cc grpc.ClientConnInterface) *SeckillClient {
	return &SeckillClient{cc: cc}
}

func (c *SeckillClient) Purchase(ctx context.Context, in *PurchaseRPCRequest, opts ...grpc.CallOption) (*PurchaseRPCResponse, error) {
	out := dynamicpb.NewMessage(purchaseResponseDesc)
	if err := c.cc.Invoke(ctx, purchaseMethod, in.toProto(), out, opts...); err != nil {
		return nil, err
	}
	return purchaseResponseFromProto(out), nil
}

func (c *SeckillClient) GetOrderStatus(ctx context.Context, in *OrderStatusRPCRequest, opts ...grpc.CallOption) (*OrderStatusRPCResponse, error) {
	out := dynamicpb.NewMessage(orderStatusResponseDesc)
	if err := c.cc.Invoke(ctx, orderStatusMethod, in.toProto(), out, opts...); err != nil {
		return nil, err
	}
	return orderStatusResponseFromProto(out), nil
}
