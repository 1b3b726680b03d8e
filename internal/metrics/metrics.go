package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	StreamsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "koala_streams_active",
		Help: "Current number of open live streams (SSE and websocket)",
	})
	EventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "koala_events_published_total",
		Help: "Total number of events published to the in-process hub",
	}, []string{"event"})
	MessagesCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "koala_messages_created_total",
		Help: "Total number of chat messages created",
	}, []string{"type"})
	PushResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "koala_push_results_total",
		Help: "Push delivery attempts by outcome",
	}, []string{"result"})
	PushSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "koala_push_skipped_total",
		Help: "Push subscriptions skipped during dispatch by reason",
	}, []string{"reason"})
	SweepDeleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "koala_sweep_deleted_total",
		Help: "Rows and files removed by the retention sweep",
	}, []string{"kind"})
	SweepErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "koala_sweep_errors_total",
		Help: "Retention sweep step failures",
	}, []string{"step"})
	HttpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HttpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(StreamsActive, EventsPublished, MessagesCreated, PushResults, PushSkipped,
		SweepDeleted, SweepErrors, HttpRequestsTotal, HttpRequestDuration)
}

// NoRoutePath 是未匹配路由请求的 path 标签值。
const NoRoutePath = "noroute"

// GinMiddleware 统计基础请求指标，供 Prometheus 拉取。
// 未匹配路由的请求统一记为 NoRoutePath，避免任意 URL 成为标签。
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = NoRoutePath
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}
