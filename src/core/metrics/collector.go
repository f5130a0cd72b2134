package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector 工作室指标收集器
type Collector struct {
	uploadsTotal      *prometheus.CounterVec
	uploadBytes       prometheus.Histogram
	editsTotal        *prometheus.CounterVec
	editDuration      *prometheus.HistogramVec
	editsInFlight     prometheus.Gauge
	securityIncidents prometheus.Counter
	activeSessions    prometheus.Gauge
}

// NewCollector 创建指标收集器，reg 为 nil 时注册到默认注册表
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		uploadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Total number of image uploads",
		}, []string{"status"}),
		uploadBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_size_bytes",
			Help:      "Size of uploaded images in bytes",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 8),
		}),
		editsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "edits_total",
			Help:      "Total number of edit attempts by outcome",
		}, []string{"provider", "outcome"}),
		editDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "edit_duration_seconds",
			Help:      "Remote edit call duration in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"provider"}),
		editsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "edits_in_flight",
			Help:      "Number of edits currently waiting on the remote model",
		}),
		securityIncidents: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_security_incidents_total",
			Help:      "Uploads rejected by the security validator",
		}),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of live studio sessions",
		}),
	}
}

// RecordUpload 记录一次上传
func (c *Collector) RecordUpload(status string, size int) {
	c.uploadsTotal.WithLabelValues(status).Inc()
	if size > 0 {
		c.uploadBytes.Observe(float64(size))
	}
}

// RecordSecurityIncident 记录一次被拦截的上传
func (c *Collector) RecordSecurityIncident() {
	c.securityIncidents.Inc()
}

// EditStarted 编辑开始
func (c *Collector) EditStarted() {
	c.editsInFlight.Inc()
}

// EditFinished 编辑结束，outcome 为 success 或错误类型
func (c *Collector) EditFinished(provider, outcome string, duration time.Duration) {
	c.editsInFlight.Dec()
	c.editsTotal.WithLabelValues(provider, outcome).Inc()
	c.editDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// SetActiveSessions 更新当前会话数
func (c *Collector) SetActiveSessions(n int) {
	c.activeSessions.Set(float64(n))
}
