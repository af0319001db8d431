package observability

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

const namespace = "market_chat"

var (
	// HTTP
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route template and status.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "route"},
	)

	// gRPC health surface
	grpcHandledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_handled_total",
			Help:      "Unary gRPC calls by service, method and code.",
		},
		[]string{"grpc_service", "grpc_method", "grpc_code"},
	)

	// Websocket feed
	wsConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections",
			Help:      "Open websocket feed connections.",
		},
	)
	wsEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_events_total",
			Help:      "Websocket lifecycle events.",
		},
		[]string{"event"},
	)

	// Broker
	amqpPublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "amqp_publish_failures_total",
			Help:      "Events that could not be published to RabbitMQ.",
		},
	)

	// Domain
	conversationsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversations_created_total",
			Help:      "Direct conversations created.",
		},
	)
	sendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sends_total",
			Help:      "Send requests by outcome.",
		},
		[]string{"outcome"},
	)
	feedDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_delivered_total",
			Help:      "Change-feed events handed to subscribers.",
		},
		[]string{"type"},
	)
	feedDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_dropped_total",
			Help:      "Change-feed events that never reached a subscriber.",
		},
		[]string{"reason"},
	)
)

// HTTPMetricsMiddleware records request counts and latency keyed by the route
// template, so path parameters do not explode label cardinality.
func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}

func GRPCServerMetricsUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		service, method := splitFullMethod(info.FullMethod)
		grpcHandledTotal.WithLabelValues(service, method, status.Code(err).String()).Inc()
		return resp, err
	}
}

// splitFullMethod splits "/pkg.Service/Method".
func splitFullMethod(fullMethod string) (string, string) {
	service, method, ok := strings.Cut(strings.TrimPrefix(fullMethod, "/"), "/")
	if !ok || service == "" || method == "" {
		return "unknown", "unknown"
	}
	return service, method
}

func IncWSActive() { wsConnections.Inc() }
func DecWSActive() { wsConnections.Dec() }

func IncWSEvent(event string) {
	wsEventsTotal.WithLabelValues(event).Inc()
}

func IncAMQPPublishError() {
	amqpPublishFailures.Inc()
}

func IncConversationsCreated() {
	conversationsCreated.Inc()
}

// IncMessagesSent records a send outcome: "created", "replayed" or "rejected".
func IncMessagesSent(outcome string) {
	sendsTotal.WithLabelValues(outcome).Inc()
}

func AddFeedDelivered(eventType string, n int) {
	if n > 0 {
		feedDelivered.WithLabelValues(eventType).Add(float64(n))
	}
}

func IncFeedDropped(reason string) {
	feedDropped.WithLabelValues(reason).Inc()
}
