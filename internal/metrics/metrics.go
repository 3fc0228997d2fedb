// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder はメトリクス収集のインターフェース。
// サービス層、ミドルウェア、ワーカーから利用する。
type Recorder interface {
	RecordThreadCreated()
	RecordThreadLockChanged(locked bool)
	RecordMessagePosted()
	RecordMessageEdited()
	RecordMessageDeleted(byModerator bool)
	RecordReactionToggled(result string)
	RecordDenied(operation string)
	RecordHTTPRequest(statusCode int, duration time.Duration)
	RecordSessionsPurged(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	threadsCreated  prometheus.Counter
	threadLocks     *prometheus.CounterVec
	messagesPosted  prometheus.Counter
	messagesEdited  prometheus.Counter
	messagesDeleted *prometheus.CounterVec
	reactions       *prometheus.CounterVec
	denied          *prometheus.CounterVec
	httpStatus      *prometheus.CounterVec
	httpLatency     prometheus.Histogram
	sessionsPurged  prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		threadsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "guildfire_threads_created_total",
			Help: "作成されたスレッドの合計数",
		}),
		threadLocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guildfire_thread_lock_changes_total",
			Help: "スレッドのロック状態変更の合計数",
		}, []string{"state"}),
		messagesPosted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "guildfire_messages_posted_total",
			Help: "投稿されたメッセージの合計数",
		}),
		messagesEdited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "guildfire_messages_edited_total",
			Help: "編集されたメッセージの合計数",
		}),
		messagesDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guildfire_messages_deleted_total",
			Help: "削除されたメッセージの合計数",
		}, []string{"by"}),
		reactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guildfire_reactions_toggled_total",
			Help: "リアクショントグルの合計数",
		}, []string{"result"}),
		denied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guildfire_authz_denied_total",
			Help: "認可で拒否された操作の合計数",
		}, []string{"operation"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guildfire_http_requests_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		httpLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "guildfire_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		sessionsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "guildfire_sessions_purged_total",
			Help: "削除された期限切れセッションの合計数",
		}),
	}

	reg.MustRegister(
		c.threadsCreated,
		c.threadLocks,
		c.messagesPosted,
		c.messagesEdited,
		c.messagesDeleted,
		c.reactions,
		c.denied,
		c.httpStatus,
		c.httpLatency,
		c.sessionsPurged,
	)

	return c
}

// RecordThreadCreated はスレッド作成を記録する。
func (c *Collector) RecordThreadCreated() {
	c.threadsCreated.Inc()
}

// RecordThreadLockChanged はロック状態の変更を記録する。
func (c *Collector) RecordThreadLockChanged(locked bool) {
	state := "open"
	if locked {
		state = "locked"
	}
	c.threadLocks.WithLabelValues(state).Inc()
}

// RecordMessagePosted はメッセージ投稿を記録する。
func (c *Collector) RecordMessagePosted() {
	c.messagesPosted.Inc()
}

// RecordMessageEdited はメッセージ編集を記録する。
func (c *Collector) RecordMessageEdited() {
	c.messagesEdited.Inc()
}

// RecordMessageDeleted はメッセージ削除を記録する。byModeratorは投稿者以外による削除を表す。
func (c *Collector) RecordMessageDeleted(byModerator bool) {
	by := "author"
	if byModerator {
		by = "moderator"
	}
	c.messagesDeleted.WithLabelValues(by).Inc()
}

// RecordReactionToggled はリアクショントグルの結果（added / removed）を記録する。
func (c *Collector) RecordReactionToggled(result string) {
	c.reactions.WithLabelValues(result).Inc()
}

// RecordDenied は認可で拒否された操作を記録する。
func (c *Collector) RecordDenied(operation string) {
	c.denied.WithLabelValues(operation).Inc()
}

// RecordHTTPRequest はHTTPレスポンスのステータスと処理時間を記録する。
func (c *Collector) RecordHTTPRequest(statusCode int, duration time.Duration) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
	c.httpLatency.Observe(duration.Seconds())
}

// RecordSessionsPurged は削除した期限切れセッション数を記録する。
func (c *Collector) RecordSessionsPurged(count int64) {
	c.sessionsPurged.Add(float64(count))
}

// Nop は何も記録しないRecorder。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordThreadCreated()                 {}
func (Nop) RecordThreadLockChanged(bool)         {}
func (Nop) RecordMessagePosted()                 {}
func (Nop) RecordMessageEdited()                 {}
func (Nop) RecordMessageDeleted(bool)            {}
func (Nop) RecordReactionToggled(string)         {}
func (Nop) RecordDenied(string)                  {}
func (Nop) RecordHTTPRequest(int, time.Duration) {}
func (Nop) RecordSessionsPurged(int64)           {}

// OrNop はrがnilの場合にNopを返す。
func OrNop(r Recorder) Recorder {
	if r == nil {
		return Nop{}
	}
	return r
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var (
	_ Recorder = (*Collector)(nil)
	_ Recorder = Nop{}
)
