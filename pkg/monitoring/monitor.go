package monitoring

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	// ProgressMutations 按操作与结果统计进度变更，result: granted / already_completed / failed_attempt / error
	ProgressMutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "progress_mutations_total",
			Help: "Lesson completions and quiz submissions by outcome",
		},
		[]string{"operation", "result"},
	)

	XPGranted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "progress_xp_granted_total",
		Help: "Total XP credited by the progress engine",
	})

	CoinsGranted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "progress_coins_granted_total",
		Help: "Total coins credited on level-up",
	})

	TxnConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "progress_txn_conflicts_total",
		Help: "Transaction commits rejected because the read set changed",
	})

	SyllabusRebuilds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syllabus_rebuilds_total",
			Help: "Syllabus rebuilds by result",
		},
		[]string{"result"},
	)

	SyllabusRebuildDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "syllabus_rebuild_duration_seconds",
		Help:    "Duration of syllabus rebuilds",
		Buckets: prometheus.DefBuckets,
	})
)

var initOnce sync.Once

func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			RequestCounter,
			RequestDuration,
			ProgressMutations,
			XPGranted,
			CoinsGranted,
			TxnConflicts,
			SyllabusRebuilds,
			SyllabusRebuildDuration,
		)
	})
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := c.Writer.Status()

		RequestCounter.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			strconv.Itoa(status),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
		).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
