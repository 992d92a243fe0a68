package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/joseph-ayodele/docanalysis/constants"
	"github.com/joseph-ayodele/docanalysis/internal/common"
)

// Document bytes travel in a single message.
const maxMessageBytes = constants.MaxFileBytes + 1<<20

// NewGRPCServer registers the analysis service with health and reflection.
// The returned health server reports SERVING for both "" and ServiceName.
func NewGRPCServer(svc AnalysisServer, logger *slog.Logger, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	if logger == nil {
		logger = slog.Default()
	}
	opts = append([]grpc.ServerOption{
		grpc.MaxRecvMsgSize(maxMessageBytes),
		grpc.ChainUnaryInterceptor(requestLogger(logger)),
	}, opts...)
	gs := grpc.NewServer(opts...)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	reflection.Register(gs)
	RegisterAnalysisServer(gs, svc)
	return gs, hs
}

// requestLogger tags each call with a request id (from x-request-id or a new
// UUID) and logs its outcome.
func requestLogger(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		md, _ := metadata.FromIncomingContext(ctx)
		reqID := firstValue(md, MetadataRequestID)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx = common.WithRequestID(ctx, reqID)
		ctx = common.WithLogger(ctx, logger.With("req_id", reqID, "method", info.FullMethod))
		_ = grpc.SetHeader(ctx, metadata.Pairs(MetadataRequestID, reqID))

		resp, err := handler(ctx, req)
		code := status.Code(err)
		attrs := []any{"req_id", reqID, "method", info.FullMethod, "code", code.String(), "elapsed_ms", time.Since(start).Milliseconds()}
		if err != nil {
			logger.Warn("grpc.request.failed", append(attrs, "error", err)...)
		} else {
			logger.Info("grpc.request.ok", attrs...)
		}
		return resp, err
	}
}
