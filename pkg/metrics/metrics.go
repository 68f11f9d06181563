package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MQ 消费延迟（毫秒）
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"routing_key", "queue"},
	)

	// 分类模型调用延迟（毫秒）
	ClassifierCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "classifier_call_latency_ms",
			Help:    "AI classifier call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(100, 2, 10), // 100ms to ~100s
		},
		[]string{"source"}, // source: tool_call, free_text, default
	)

	// 邮箱 API 调用延迟（毫秒）
	MailAPILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mail_api_latency_ms",
			Help:    "Mail provider API call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12),
		},
		[]string{"operation", "status"},
	)

	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)

	// 慢查询计数
	SlowQueryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_slow_query_count",
			Help: "Total number of queries slower than the configured threshold",
		},
		[]string{"statement"},
	)

	// 同步运行耗时（秒）
	SyncRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailbox_sync_duration_seconds",
			Help:    "Duration of a full sync run across all mailboxes of a user",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
		[]string{"status"}, // status: completed, cancelled, failed
	)

	// 邮件处理结果计数
	EmailProcessedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "email_processed_count",
			Help: "Total number of emails processed by outcome",
		},
		[]string{"outcome"}, // outcome: tracked, untracked, manual_access, dropped, duplicate, failed
	)

	// 熔断器状态：0 closed, 1 half-open, 2 open
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	// 邮箱级失败计数
	MailboxErrorCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailbox_error_count",
			Help: "Total number of mailbox-scoped sync failures",
		},
		[]string{"reason"},
	)
)

// RecordMQConsumeLatency 记录 MQ 消费延迟
func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

// RecordClassifierCallLatency 记录分类模型调用延迟
func RecordClassifierCallLatency(source string, duration time.Duration) {
	ClassifierCallLatency.WithLabelValues(source).Observe(float64(duration.Milliseconds()))
}

// RecordMailAPILatency 记录邮箱 API 调用延迟
func RecordMailAPILatency(operation, status string, duration time.Duration) {
	MailAPILatency.WithLabelValues(operation, status).Observe(float64(duration.Milliseconds()))
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// IncrementSlowQuery 增加慢查询计数
func IncrementSlowQuery(statement string, _ time.Duration) {
	SlowQueryCount.WithLabelValues(statementKind(statement)).Inc()
}

// RecordSyncRun 记录一次同步运行
func RecordSyncRun(status string, duration time.Duration) {
	SyncRunDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// IncrementEmailProcessed 增加邮件处理计数
func IncrementEmailProcessed(outcome string) {
	EmailProcessedCount.WithLabelValues(outcome).Inc()
}

// IncrementMailboxError 增加邮箱级失败计数
func IncrementMailboxError(reason string) {
	MailboxErrorCount.WithLabelValues(reason).Inc()
}

// statementKind keeps label cardinality bounded by using only the leading keyword.
func statementKind(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "unknown"
	}
	return strings.ToUpper(fields[0])
}

// SetCircuitBreakerState 记录熔断器当前状态
func SetCircuitBreakerState(name string, state int) {
	CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}
