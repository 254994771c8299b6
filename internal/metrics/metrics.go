// ============================================================================
// splice Metrics - Prometheus 監控指標
// ============================================================================
//
// Package: internal/metrics
// 文件: metrics.go
// 功能: 收集 job pipeline 的運行指標，透過 /metrics 暴露給 Prometheus
//
// 指標分類:
//
//   1. 計數器 (Counter):
//      - splice_jobs_started_total: 已啟動 job 總數
//      - splice_jobs_finished_total{status}: 依終態分類的 job 總數
//      - splice_siblings_shifted_total: 因編輯而位移的兄弟 job 次數
//      - splice_bytes_sent_total / splice_bytes_received_total: prompt 與回應大小
//
//   2. 分佈 (Histogram):
//      - splice_job_duration_seconds{status}: 從提交到終態的耗時
//        * 桶分佈: 0.5s 起指數增長，模型呼叫通常是秒級
//
//   3. 瞬時值 (Gauge):
//      - splice_jobs_in_flight: 目前執行中的 job 數
//
// Prometheus 查詢示例:
//
//   # 解析失敗率
//   rate(splice_jobs_finished_total{status="parse_failed"}[5m])
//     / rate(splice_jobs_finished_total[5m])
//
//   # 95 分位耗時
//   histogram_quantile(0.95, sum by (le) (rate(splice_job_duration_seconds_bucket[5m])))
//
// 註冊:
//   NewCollector 接受 prometheus.Registerer，測試可傳入獨立 registry。
//
// ============================================================================

package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ChuLiYu/splice/internal/joblog"
	"github.com/ChuLiYu/splice/pkg/types"
)

// Collector Prometheus 指標收集器，實作 runner.Recorder
type Collector struct {
	jobsStarted     prometheus.Counter
	jobsFinished    *prometheus.CounterVec
	siblingsShifted prometheus.Counter
	bytesSent       prometheus.Counter
	bytesReceived   prometheus.Counter
	jobDuration     *prometheus.HistogramVec
	jobsInFlight    prometheus.Gauge
}

// NewCollector 建立並註冊所有指標
//
// 參數：
//   - reg: 註冊目標；nil 時使用 prometheus.DefaultRegisterer
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "splice_jobs_started_total",
			Help: "Total number of jobs admitted",
		}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "splice_jobs_finished_total",
			Help: "Total number of jobs that reached a terminal status",
		}, []string{"status"}),
		siblingsShifted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "splice_siblings_shifted_total",
			Help: "Total number of sibling job ranges shifted by applied edits",
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "splice_bytes_sent_total",
			Help: "Prompt bytes sent to the backend",
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "splice_bytes_received_total",
			Help: "Response bytes received from the backend",
		}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "splice_job_duration_seconds",
			Help:    "Time from submission to terminal status",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"status"}),
		jobsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "splice_jobs_in_flight",
			Help: "Current number of running jobs",
		}),
	}

	reg.MustRegister(
		c.jobsStarted,
		c.jobsFinished,
		c.siblingsShifted,
		c.bytesSent,
		c.bytesReceived,
		c.jobDuration,
		c.jobsInFlight,
	)
	return c
}

// JobStarted 記錄 job 被接受
func (c *Collector) JobStarted(types.Job) {
	c.jobsStarted.Inc()
	c.jobsInFlight.Inc()
}

// JobFinished 記錄 job 終態
func (c *Collector) JobFinished(e joblog.Entry) {
	status := string(e.Status)
	c.jobsInFlight.Dec()
	c.jobsFinished.WithLabelValues(status).Inc()
	c.jobDuration.WithLabelValues(status).Observe(e.Duration().Seconds())
	c.bytesSent.Add(float64(e.BytesSent))
	c.bytesReceived.Add(float64(e.BytesReceived))
}

// SiblingsShifted 記錄位移的兄弟 job 數
func (c *Collector) SiblingsShifted(n int) {
	c.siblingsShifted.Add(float64(n))
}

// Handler 返回指定 gatherer 的 /metrics handler
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Serve 啟動 metrics HTTP 伺服器，ctx 取消時關閉
//
// 參數：
//   - ctx: 生命週期
//   - addr: 監聽位址，例如 ":9090"
//   - g: 指標來源
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(g))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
