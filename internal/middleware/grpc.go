// Package middleware 提供 gRPC 服务端拦截器
package middleware

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/hts-platform/hts-account/internal/logger"
)

const TraceIDKey = "x-trace-id"

// RecoveryUnaryServerInterceptor panic 恢复拦截器
func RecoveryUnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("grpc panic recovered",
					"panic", r,
					"method", info.FullMethod,
					"stack", string(debug.Stack()),
				)
				err = status.Errorf(codes.Internal, "internal error")
			}
		}()

		return handler(ctx, req)
	}
}

// LoggingUnaryServerInterceptor 请求日志拦截器
func LoggingUnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()

		traceID := extractTraceID(ctx)
		if traceID == "" {
			traceID = uuid.New().String()
		}

		resp, err := handler(ctx, req)

		duration := time.Since(start)
		if err != nil {
			st, _ := status.FromError(err)
			logger.Error("grpc request failed",
				"trace_id", traceID,
				"method", info.FullMethod,
				"duration", duration,
				"code", st.Code().String(),
				"error", st.Message(),
			)
		} else {
			logger.Debug("grpc request completed",
				"trace_id", traceID,
				"method", info.FullMethod,
				"duration", duration,
			)
		}

		return resp, err
	}
}

// extractTraceID 从 metadata 提取 trace_id
func extractTraceID(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(TraceIDKey)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
