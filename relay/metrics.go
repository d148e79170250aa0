package relay

import "github.com/prometheus/client_golang/prometheus"

// 会话结果标签
const (
	OutcomeDone      = "done"
	OutcomeError     = "error"
	OutcomeAbandoned = "abandoned"
)

var (
	// SessionsActive 正在进行的会话数
	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatrelay_sessions_active",
			Help: "Active relay sessions",
		},
	)

	// SessionsTotal 按结果统计结束的会话
	SessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_sessions_total",
			Help: "Finished relay sessions",
		},
		[]string{"outcome"},
	)

	UpstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_upstream_requests_total",
			Help: "Upstream requests by status code, or \"error\" when no response arrived",
		},
		[]string{"status"},
	)

	// UpstreamFirstByte 上游返回响应头的耗时
	UpstreamFirstByte = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatrelay_upstream_first_byte_seconds",
			Help:    "Time until upstream response headers",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
	)

	ChunksRelayed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatrelay_chunks_relayed_total",
			Help: "Chunk events written downstream",
		},
	)

	FramesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatrelay_frames_dropped_total",
			Help: "Malformed upstream frames dropped",
		},
	)
)

func init() {
	prometheus.MustRegister(
		SessionsActive,
		SessionsTotal,
		UpstreamRequestsTotal,
		UpstreamFirstByte,
		ChunksRelayed,
		FramesDropped,
	)
}
