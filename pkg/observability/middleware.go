package observability

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// ObservabilityMiddleware provides request-id tagging, trace
// propagation, metrics recording, and slow-request logging for every
// HTTP endpoint exposed by internal/api.
type ObservabilityMiddleware struct {
	tracer         trace.Tracer
	metrics        *MetricsProvider
	logger         *Logger
	performanceLog *PerformanceLogger
	perf           *PerformanceMonitor
	serviceName    string
	slowThreshold  time.Duration
}

// MiddlewareConfig contains configuration for observability middleware.
type MiddlewareConfig struct {
	ServiceName   string
	SlowThreshold time.Duration
}

// NewObservabilityMiddleware creates a new observability middleware.
// perf may be nil, in which case per-request performance sampling is
// skipped.
func NewObservabilityMiddleware(
	metrics *MetricsProvider,
	logger *Logger,
	config MiddlewareConfig,
	perf *PerformanceMonitor,
) *ObservabilityMiddleware {
	tracer := otel.Tracer(config.ServiceName)

	slowThreshold := config.SlowThreshold
	if slowThreshold == 0 {
		slowThreshold = 1 * time.Second
	}

	return &ObservabilityMiddleware{
		tracer:         tracer,
		metrics:        metrics,
		logger:         logger,
		performanceLog: NewPerformanceLogger(logger),
		perf:           perf,
		serviceName:    config.ServiceName,
		slowThreshold:  slowThreshold,
	}
}

// HTTPMiddleware wraps an http.Handler with request-id tagging, trace
// propagation, metrics, and slow-request logging.
func (om *ObservabilityMiddleware) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := uuid.New().String()
		w.Header().Set("X-Request-ID", requestID)

		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		spanName := fmt.Sprintf("%s %s", r.Method, r.URL.Path)
		ctx, span := om.tracer.Start(ctx, spanName)
		defer span.End()

		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.url", r.URL.String()),
			attribute.String("http.user_agent", r.UserAgent()),
			attribute.String("http.remote_addr", r.RemoteAddr),
			attribute.String("request.id", requestID),
			attribute.String("service.name", om.serviceName),
		)

		rw := &responseWriter{ResponseWriter: w, statusCode: 200}

		r = r.WithContext(ctx)

		om.logger.Info(ctx, "HTTP request started", map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"user_agent":  r.UserAgent(),
			"remote_addr": r.RemoteAddr,
			"request_id":  requestID,
		})

		next.ServeHTTP(rw, r)

		duration := time.Since(start)
		statusCode := rw.statusCode

		span.SetAttributes(
			attribute.Int("http.status_code", statusCode),
			attribute.Int64("http.response_size", int64(rw.size)),
			attribute.Float64("http.duration_ms", float64(duration.Nanoseconds())/1e6),
		)

		if statusCode >= 400 {
			span.SetAttributes(attribute.Bool("error", true))
			if statusCode >= 500 {
				span.RecordError(fmt.Errorf("HTTP %d", statusCode))
			}
		}

		if om.metrics != nil {
			om.metrics.RecordHTTPRequest(
				ctx,
				r.Method,
				r.URL.Path,
				strconv.Itoa(statusCode),
				duration,
			)
		}

		if om.perf != nil {
			om.perf.RecordRequest(&RequestMetrics{
				Path:       r.URL.Path,
				Method:     r.Method,
				StatusCode: statusCode,
				Duration:   duration,
				Size:       int64(rw.size),
				UserAgent:  r.UserAgent(),
				IP:         r.RemoteAddr,
				Timestamp:  start,
			})
		}

		logFields := map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status_code": statusCode,
			"duration_ms": duration.Milliseconds(),
			"request_id":  requestID,
		}

		if statusCode >= 400 {
			om.logger.Warn(ctx, "HTTP request completed with error", logFields)
		} else {
			om.logger.Info(ctx, "HTTP request completed", logFields)
		}

		if duration > om.slowThreshold {
			om.performanceLog.LogSlowOperation(
				ctx,
				fmt.Sprintf("%s %s", r.Method, r.URL.Path),
				duration,
				om.slowThreshold,
				logFields,
			)
		}
	})
}

// responseWriter wraps http.ResponseWriter to capture status code and response size.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWriter) Write(data []byte) (int, error) {
	size, err := rw.ResponseWriter.Write(data)
	rw.size += size
	return size, err
}

// Hijack passes through to the wrapped writer so WebSocket upgrades work
// behind the middleware.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("underlying ResponseWriter does not implement http.Hijacker")
	}
	return hj.Hijack()
}
