package handler

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// seckillFile is api/seckill/v1/seckill.proto. Messages travel as dynamicpb
// values on grpc's default proto codec.
var seckillFile = mustSeckillFile()

var (
	purchaseRequestDesc     = seckillFile.Messages().ByName("PurchaseRequest")
	purchaseResponseDesc    = seckillFile.Messages().ByName("PurchaseResponse")
	orderStatusRequestDesc  = seckillFile.Messages().ByName("OrderStatusRequest")
	orderStatusResponseDesc = seckillFile.Messages().ByName("OrderStatusResponse")
)

func scalar(name string, number int32, typ descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(number),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:   typ.Enum(),
	}
}

func message(name string, fields ...*descriptorpb.FieldDescriptorProto) *descriptorpb.DescriptorProto {
	return &descriptorpb.DescriptorProto{Name: proto.String(name), Field: fields}
}

func method(name, in, out string) *descriptorpb.MethodDescriptorProto {
	return &descriptorpb.MethodDescriptorProto{
		Name:       proto.String(name),
		InputType:  proto.String(".seckill.v1." + in),
		OutputType: proto.String(".seckill.v1." + out),
	}
}

func mustSeckillFile() protoreflect.FileDescriptor {
	const (
		i32 = descriptorpb.FieldDescriptorProto_TYPE_INT32
		i64 = descriptorpb.FieldDescriptorProto_TYPE_INT64
		str = descriptorpb.FieldDescriptorProto_TYPE_STRING
		bln = descriptorpb.FieldDescriptorProto_TYPE_BOOL
	)

	deadline := scalar("payment_deadline", 7, descriptorpb.FieldDescriptorProto_TYPE_MESSAGE)
	deadline.TypeName = proto.String("." + string((&timestamppb.Timestamp{}).ProtoReflect().Descriptor().FullName()))

	fdp := &descriptorpb.FileDescriptorProto{
		Name:       proto.String("seckill/v1/seckill.proto"),
		Package:    proto.String("seckill.v1"),
		Syntax:     proto.String("proto3"),
		Dependency: []string{timestamppb.File_google_protobuf_timestamp_proto.Path()},
		Options: &descriptorpb.FileOptions{
			GoPackage: proto.String("github.com/rl1809/seckill/api/seckill/v1;seckillv1"),
		},
		MessageType: []*descriptorpb.DescriptorProto{
			message("PurchaseRequest",
				scalar("user_id", 1, i64),
				scalar("activity_id", 2, i64),
				scalar("product_id", 3, i64),
				scalar("quantity", 4, i32),
			),
			message("PurchaseResponse",
				scalar("success", 1, bln),
				scalar("message", 2, str),
				scalar("reason", 3, str),
				scalar("order_no", 4, str),
				scalar("status", 5, str),
				scalar("total_amount", 6, i64),
				deadline,
			),
			message("OrderStatusRequest",
				scalar("order_no", 1, str),
			),
			message("OrderStatusResponse",
				scalar("order_no", 1, str),
				scalar("status", 2, str),
				scalar("order_status", 3, str),
				scalar("quantity", 4, i32),
				scalar("total_amount", 5, i64),
			),
		},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name: proto.String("SeckillService"),
			Method: []*descriptorpb.MethodDescriptorProto{
				method("Purchase", "PurchaseRequest", "PurchaseResponse"),
				method("GetOrderStatus", "OrderStatusRequest", "OrderStatusResponse"),
			},
		}},
	}

	fd, err := protodesc.NewFile(fdp, protoregistry.GlobalFiles)
	if err != nil {
		panic(fmt.Sprintf("build seckill descriptor: %v", err))
	}
	return fd
}

func fieldOf(m protoreflect.Message, name protoreflect.Name) protoreflect.FieldDescriptor {
	fd := m.Descriptor().Fields().ByName(name)
	if fd == nil {
		panic(fmt.Sprintf("%s has no field %s", m.Descriptor().FullName(), name))
	}
	return fd
}

func setField(m protoreflect.Message, name protoreflect.Name, v protoreflect.Value) {
	m.Set(fieldOf(m, name), v)
}

func getField(m protoreflect.Message, name protoreflect.Name) protoreflect.Value {
	return m.Get(fieldOf(m, name))
}

// setTime writes t into a google.protobuf.Timestamp field. The zero time is left unset.
func setTime(m protoreflect.Message, name protoreflect.Name, t time.Time) {
	if t.IsZero() {
		return
	}
	ts := m.Mutable(fieldOf(m, name)).Message()
	setField(ts, "seconds", protoreflect.ValueOfInt64(t.Unix()))
	setField(ts, "nanos", protoreflect.ValueOfInt32(int32(t.Nanosecond())))
}

func getTime(m protoreflect.Message, name protoreflect.Name) time.Time {
	fd := fieldOf(m, name)
	if !m.Has(fd) {
		return time.Time{}
	}
	ts := m.Get(fd).Message()
	return time.Unix(getField(ts, "seconds").Int(), getField(ts, "nanos").Int()).UTC()
}

func (r *PurchaseRPCRequest) toProto() *dynamicpb.Message {
	m := dynamicpb.NewMessage(purchaseRequestDesc)
	setField(m, "user_id", protoreflect.ValueOfInt64(r.UserID))
	setField(m, "activity_id", protoreflect.ValueOfInt64(r.ActivityID))
	setField(m, "product_id", protoreflect.ValueOfInt64(r.ProductID))
	setField(m, "quantity", protoreflect.ValueOfInt32(r.Quantity))
	return m
}

func purchaseRequestFromProto(m protoreflect.Message) *PurchaseRPCRequest {
	return &PurchaseRPCRequest{
		UserID:     getField(m, "user_id").Int(),
		ActivityID: getField(m, "activity_id").Int(),
		ProductID:  getField(m, "product_id").Int(),
		Quantity:   int32(getField(m, "quantity").Int()),
	}
}

func (r *PurchaseRPCResponse) toProto() *dynamicpb.Message {
	m := dynamicpb.NewMessage(purchaseResponseDesc)
	setField(m, "success", protoreflect.ValueOfBool(r.Success))
	setField(m, "message", protoreflect.ValueOfString(r.Message))
	setField(m, "reason", protoreflect.ValueOfString(r.Reason))
	setField(m, "order_no", protoreflect.ValueOfString(r.OrderNo))
	setField(m, "status", protoreflect.ValueOfString(r.Status))
	setField(m, "total_amount", protoreflect.ValueOfInt64(r.TotalAmount))
	setTime(m, "payment_deadline", r.PaymentDeadline)
	return m
}

func purchaseResponseFromProto(m protoreflect.Message) *PurchaseRPCResponse {
	return &PurchaseRPCResponse{
		Success:         getField(m, "success").Bool(),
		Message:         getField(m, "message").String(),
		Reason:          getField(m, "reason").String(),
		OrderNo:         getField(m, "order_no").String(),
		Status:          getField(m, "status").String(),
		TotalAmount:     getField(m, "total_amount").Int(),
		PaymentDeadline: getTime(m, "payment_deadline"),
	}
}

func (r *OrderStatusRPCRequest) toProto() *dynamicpb.Message {
	m := dynamicpb.NewMessage(orderStatusRequestDesc)
	setField(m, "order_no", protoreflect.ValueOfString(r.OrderNo))
	return m
}

func orderStatusRequestFromProto(m protoreflect.Message) *OrderStatusRPCRequest {
	return &OrderStatusRPCRequest{OrderNo: getField(m, "order_no").String()}
}

func (r *OrderStatusRPCResponse) toProto() *dynamicpb.Message {
	m := dynamicpb.NewMessage(orderStatusResponseDesc)
	setField(m, "order_no", protoreflect.ValueOfString(r.OrderNo))
	setField(m, "status", protoreflect.ValueOfString(r.Status))
	setField(m, "order_status", protoreflect.ValueOfString(r.OrderStatus))
	setField(m, "quantity", protoreflect.ValueOfInt32(int32(r.Quantity)))
	setField(m, "total_amount", protoreflect.ValueOfInt64(r.TotalAmount))
	return m
}

func orderStatusResponseFromProto(m protoreflect.Message) *OrderStatusRPCResponse {
	return &OrderStatusRPCResponse{
		OrderNo:     getField(m, "order_no").String(),
		Status:      getField(m, "status").String(),
		OrderStatus: getField(m, "order_status").String(),
		Quantity:    int(getField(m, "quantity").Int()),
		TotalAmount: getField(m, "total_amount").Int(),
	}
}
