// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 取り込みサービスとタイトル解決処理から利用する。
type MetricsCollector interface {
	RecordCandidates(source, bucket string, count int)
	RecordFetch(source, result string)
	RecordSourceLatency(source string, duration time.Duration)
	RecordImported(count int)
	ObserveResolution(outcome string)
	ObserveResolutionRetry()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	candidates    *prometheus.CounterVec
	fetches       *prometheus.CounterVec
	sourceLatency *prometheus.HistogramVec
	imported      prometheus.Counter
	resolutions   *prometheus.CounterVec
	retries       prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		candidates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trackr_import_candidates_total",
			Help: "取り込み候補の振り分け先バケット別の件数",
		}, []string{"source", "bucket"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trackr_import_fetch_total",
			Help: "ソースからの取り込みフェッチの結果別の回数",
		}, []string{"source", "result"}),
		sourceLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trackr_source_fetch_latency_seconds",
			Help:    "ソースアダプタの取得処理のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"source"}),
		imported: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trackr_import_confirmed_total",
			Help: "確認により作成された読書記録の合計数",
		}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trackr_resolver_calls_total",
			Help: "生成AIによるタイトル解決の結果別の件数",
		}, []string{"outcome"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trackr_resolver_retries_total",
			Help: "生成AI呼び出しの再試行の合計数",
		}),
	}

	reg.MustRegister(
		c.candidates,
		c.fetches,
		c.sourceLatency,
		c.imported,
		c.resolutions,
		c.retries,
	)

	return c
}

// RecordCandidates はバケットに振り分けられた候補数を記録する。
func (c *Collector) RecordCandidates(source, bucket string, count int) {
	if count <= 0 {
		return
	}
	c.candidates.WithLabelValues(source, bucket).Add(float64(count))
}

// RecordFetch はフェッチの結果を記録する。resultは"ok"またはソースエラーの種類。
func (c *Collector) RecordFetch(source, result string) {
	c.fetches.WithLabelValues(source, result).Inc()
}

// RecordSourceLatency はソースアダプタの取得処理のレイテンシを記録する。
func (c *Collector) RecordSourceLatency(source string, duration time.Duration) {
	c.sourceLatency.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordImported は作成された読書記録数を記録する。
func (c *Collector) RecordImported(count int) {
	c.imported.Add(float64(count))
}

// ObserveResolution はタイトル解決の結果を記録する。
func (c *Collector) ObserveResolution(outcome string) {
	c.resolutions.WithLabelValues(outcome).Inc()
}

// ObserveResolutionRetry は生成AI呼び出しの再試行を記録する。
func (c *Collector) ObserveResolutionRetry() {
	c.retries.Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
