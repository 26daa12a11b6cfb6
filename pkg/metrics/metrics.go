package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 邮件处理计数
	MessageProcessedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "message_processed_count",
			Help: "Total number of inbound messages processed",
		},
		[]string{"outcome"}, // outcome: regex, llm, needs_review, duplicate, failed
	)

	// LLM 调用延迟（毫秒）
	LLMCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_call_latency_ms",
			Help:    "Generative parse call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(100, 2, 10), // 100ms to ~100s
		},
		[]string{"status"},
	)

	// 推送发送计数
	PushSendCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "push_send_count",
			Help: "Total number of push notification send attempts",
		},
		[]string{"outcome"}, // outcome: sent, unregistered, retry, failed
	)

	// 日历同步计数
	CalendarSyncCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calendar_sync_count",
			Help: "Total number of calendar sync attempts",
		},
		[]string{"outcome"}, // outcome: created, updated, skipped, error
	)

	// 慢查询计数
	SlowQueryCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "db_slow_query_count",
			Help: "Total number of queries slower than the configured threshold",
		},
	)

	// 数据库查询延迟（秒）
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation", "table"},
	)
)

// IncrementMessageProcessed 增加邮件处理计数
func IncrementMessageProcessed(outcome string) {
	MessageProcessedCount.WithLabelValues(outcome).Inc()
}

// RecordLLMCallLatency 记录 LLM 调用延迟
func RecordLLMCallLatency(status string, duration time.Duration) {
	LLMCallLatency.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

// IncrementPushSend 增加推送发送计数
func IncrementPushSend(outcome string) {
	PushSendCount.WithLabelValues(outcome).Inc()
}

// IncrementCalendarSync 增加日历同步计数
func IncrementCalendarSync(outcome string) {
	CalendarSyncCount.WithLabelValues(outcome).Inc()
}

// RecordDBQueryDuration 记录数据库查询延迟
func RecordDBQueryDuration(operation, table string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// IncrementSlowQuery 增加慢查询计数
func IncrementSlowQuery() {
	SlowQueryCount.Inc()
}
