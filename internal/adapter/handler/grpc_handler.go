package handler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
	"github.com/rl1809/storefront/internal/metrics"
)

const (
	CheckoutServiceName = "storefront.v1.CheckoutService"
	checkoutMethod      = "/" + CheckoutServiceName + "/Checkout"

	// JSONCodecName is the content-subtype clients select to talk to the checkout service.
	JSONCodecName = "json"

	// PurchaserMetadataKey carries the authenticated purchaser, set by the session layer in front.
	PurchaserMetadataKey = "x-user-email"
)

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return JSONCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type CheckoutRequest struct {
	CartID         string `json:"cart_id"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type CheckoutResponse struct {
	Success             bool       `json:"success"`
	Message             string     `json:"message"`
	Ticket              *ticketDTO `json:"ticket,omitempty"`
	UnprocessedProducts []string   `json:"unprocessed_products,omitempty"`
}

// CheckoutServer is implemented by GRPCHandler.
type CheckoutServer interface {
	Checkout(ctx context.Context, req *CheckoutRequest) (*CheckoutResponse, error)
}

func checkoutHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CheckoutRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CheckoutServer).Checkout(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: checkoutMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CheckoutServer).Checkout(ctx, req.(*CheckoutRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var CheckoutServiceDesc = grpc.ServiceDesc{
	ServiceName: CheckoutServiceName,
	HandlerType: (*CheckoutServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Checkout", Handler: checkoutHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "storefront/v1/checkout",
}

func RegisterCheckoutServer(s grpc.ServiceRegistrar, srv CheckoutServer) {
	s.RegisterService(&CheckoutServiceDesc, srv)
}

type CheckoutClient struct {
	cc grpc.ClientConnInterface
}

func NewCheckoutClient(cc grpc.ClientConnInterface) *CheckoutClient {
	return &CheckoutClient{cc: cc}
}

func (c *CheckoutClient) Checkout(ctx context.Context, req *CheckoutRequest, opts ...grpc.CallOption) (*CheckoutResponse, error) {
	out := new(CheckoutResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(JSONCodecName)}, opts...)
	if err := c.cc.Invoke(ctx, checkoutMethod, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

type GRPCHandler struct {
	checkout *service.CheckoutService
	metrics  *metrics.Registry
	log      logrus.FieldLogger
}

func NewGRPCHandler(checkout *service.CheckoutService, m *metrics.Registry, log logrus.FieldLogger) *GRPCHandler {
	return &GRPCHandler{checkout: checkout, metrics: m, log: log}
}

func purchaserFromMetadata(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if v := md.Get(PurchaserMetadataKey); len(v) > 0 {
		return v[0]
	}
	return ""
}

// Checkout reports business outcomes in the response. Rejected requests map to status codes.
// The purchaser comes from call metadata only.
func (h *GRPCHandler) Checkout(ctx context.Context, req *CheckoutRequest) (*CheckoutResponse, error) {
	settlement, err := h.checkout.Checkout(ctx, service.CheckoutRequest{
		CartID:         req.CartID,
		Purchaser:      purchaserFromMetadata(ctx),
		IdempotencyKey: req.IdempotencyKey,
	})
	if h.metrics != nil {
		h.metrics.Checkouts.WithLabelValues(checkoutOutcome(settlement, err)).Inc()
	}
	if err != nil {
		de, ok := domain.AsError(err)
		if !ok {
			h.log.WithError(err).WithField("cart_id", req.CartID).Error("checkout failed")
			return nil, status.Error(codes.Internal, msgInternalError)
		}
		switch de.Kind {
		case domain.KindValidation:
			return nil, status.Error(codes.InvalidArgument, de.Message)
		case domain.KindNotFound:
			return nil, status.Error(codes.NotFound, de.Message)
		case domain.KindEmptyCart:
			return &CheckoutResponse{Success: false, Message: msgEmptyCart}, nil
		case domain.KindNoStockAvailable:
			return &CheckoutResponse{Success: false, Message: de.Message, UnprocessedProducts: de.Unprocessed}, nil
		case domain.KindConflict:
			return &CheckoutResponse{Success: false, Message: de.Message}, nil
		default:
			h.log.WithError(err).WithField("cart_id", req.CartID).Error("checkout failed")
			return nil, status.Error(codes.Internal, msgInternalError)
		}
	}

	ticket := newTicketDTO(*settlement.Ticket)
	resp := &CheckoutResponse{
		Success: true,
		Message: "purchase completed",
		Ticket:  &ticket,
	}
	if !settlement.FullySettled() {
		resp.Message = "purchase partially completed"
		resp.UnprocessedProducts = settlement.UnprocessedProductIDs()
	}
	return resp, nil
}

func loggingInterceptor(log logrus.FieldLogger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		entry := log.WithFields(logrus.Fields{
			"method":      info.FullMethod,
			"code":        status.Code(err).String(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
		if status.Code(err) == codes.Internal {
			entry.Error("rpc completed")
		} else {
			entry.Info("rpc completed")
		}
		return resp, err
	}
}

// NewGRPCServer registers the checkout service and the standard health service.
func NewGRPCServer(h *GRPCHandler, log logrus.FieldLogger) (*grpc.Server, *health.Server) {
	srv := grpc.NewServer(grpc.UnaryInterceptor(loggingInterceptor(log)))
	RegisterCheckoutServer(srv, h)

	hs := health.NewServer()
	hs.SetServingStatus(CheckoutServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	return srv, hs
}
