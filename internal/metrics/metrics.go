// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hitoshi/bookshare/internal/model"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ドメイン層、HTTPミドルウェア、監査ワーカーから利用する。
type MetricsCollector interface {
	RecordOperation(op string, err error, duration time.Duration)
	RecordTimelineWriteFailure(eventType model.TimelineType)
	RecordConsistencyViolation(source string)
	RecordAuditFindings(check string, count int)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	operations    *prometheus.CounterVec
	opLatency     *prometheus.HistogramVec
	timelineFail  *prometheus.CounterVec
	consistency   *prometheus.CounterVec
	auditFindings *prometheus.GaugeVec
	httpStatus    *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bookshare_operations_total",
			Help: "ドメイン操作の実行数（結果別）",
		}, []string{"operation", "outcome"}),
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bookshare_operation_duration_seconds",
			Help:    "ドメイン操作のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		timelineFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bookshare_timeline_write_failures_total",
			Help: "状態変更後のタイムライン記録に失敗した数",
		}, []string{"type"}),
		consistency: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bookshare_consistency_violations_total",
			Help: "検出された不変条件違反の数",
		}, []string{"source"}),
		auditFindings: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bookshare_audit_findings",
			Help: "直近の整合性監査で検出された件数",
		}, []string{"check"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bookshare_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.operations,
		c.opLatency,
		c.timelineFail,
		c.consistency,
		c.auditFindings,
		c.httpStatus,
	)

	return c
}

// RecordOperation はドメイン操作の結果とレイテンシを記録する。
// outcomeはsuccess、APIErrorの種別、またはerrorのいずれか。
func (c *Collector) RecordOperation(op string, err error, duration time.Duration) {
	c.operations.WithLabelValues(op, Outcome(err)).Inc()
	c.opLatency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordTimelineWriteFailure はタイムライン記録の失敗を記録する。
func (c *Collector) RecordTimelineWriteFailure(eventType model.TimelineType) {
	c.timelineFail.WithLabelValues(string(eventType)).Inc()
}

// RecordConsistencyViolation は不変条件違反の検出を記録する。
func (c *Collector) RecordConsistencyViolation(source string) {
	c.consistency.WithLabelValues(source).Inc()
}

// RecordAuditFindings は監査チェックごとの検出件数を記録する。
func (c *Collector) RecordAuditFindings(check string, count int) {
	c.auditFindings.WithLabelValues(check).Set(float64(count))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Outcome はエラーをメトリクスのラベル値に変換する。
func Outcome(err error) string {
	if err == nil {
		return "success"
	}
	if kind := model.KindOf(err); kind != "" {
		return string(kind)
	}
	return "error"
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordOperation(string, error, time.Duration)  {}
func (Nop) RecordTimelineWriteFailure(model.TimelineType) {}
func (Nop) RecordConsistencyViolation(string)             {}
func (Nop) RecordAuditFindings(string, int)               {}
func (Nop) RecordHTTPStatus(int)                          {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
