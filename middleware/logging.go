package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// LoggingConfig holds configuration for the logging middleware.
type LoggingConfig struct {
	Logger *zap.Logger

	// SlowThreshold, when positive, logs a warning for requests taking
	// longer.
	SlowThreshold time.Duration

	LogRequestBody  bool
	LogResponseBody bool

	// ExtraFields are attached to every entry.
	ExtraFields map[string]interface{}
}

// LoggingOption is a functional option for logging configuration.
type LoggingOption func(*LoggingConfig)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) LoggingOption {
	return func(c *LoggingConfig) {
		c.Logger = logger
	}
}

// WithSlowThreshold warns about requests slower than threshold.
func WithSlowThreshold(threshold time.Duration) LoggingOption {
	return func(c *LoggingConfig) {
		c.SlowThreshold = threshold
	}
}

// WithRequestBody logs request payloads.
func WithRequestBody() LoggingOption {
	return func(c *LoggingConfig) {
		c.LogRequestBody = true
	}
}

// WithResponseBody logs response payloads of successful requests.
func WithResponseBody() LoggingOption {
	return func(c *LoggingConfig) {
		c.LogResponseBody = true
	}
}

// WithExtraFields attaches fields to every entry.
func WithExtraFields(fields map[string]interface{}) LoggingOption {
	return func(c *LoggingConfig) {
		c.ExtraFields = fields
	}
}

// Logging writes one structured entry per request, leveled by the
// response status code, plus a slow-request warning past the threshold.
func Logging(opts ...LoggingOption) Middleware {
	config := &LoggingConfig{
		Logger: zap.NewExample(),
	}
	for _, opt := range opts {
		opt(config)
	}

	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()

		resp, err := handler(ctx, req)
		duration := time.Since(start)

		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.Duration("duration", duration),
		}
		for k, v := range config.ExtraFields {
			fields = append(fields, zap.Any(k, v))
		}
		if config.LogRequestBody {
			fields = append(fields, zap.Any("request", req))
		}
		if config.LogResponseBody && err == nil {
			fields = append(fields, zap.Any("response", resp))
		}

		if err != nil {
			st := status.Convert(err)
			fields = append(fields,
				zap.String("grpc_code", st.Code().String()),
				zap.String("error", st.Message()),
			)
			switch st.Code() {
			case codes.Internal, codes.Unknown, codes.DataLoss:
				config.Logger.Error("request failed", fields...)
			case codes.InvalidArgument, codes.NotFound, codes.AlreadyExists,
				codes.PermissionDenied, codes.Unauthenticated:
				config.Logger.Warn("request rejected", fields...)
			default:
				config.Logger.Info("request completed with error", fields...)
			}
		} else {
			fields = append(fields, zap.String("grpc_code", codes.OK.String()))
			config.Logger.Info("request completed", fields...)
		}

		if config.SlowThreshold > 0 && duration > config.SlowThreshold {
			config.Logger.Warn("slow request",
				zap.String("method", info.FullMethod),
				zap.Duration("duration", duration),
				zap.Duration("threshold", config.SlowThreshold),
			)
		}

		return resp, err
	}
}
