package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// counterValue はレジストリから指定メトリクス・ラベルのカウンタ値を取得する。
func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if matchLabels(m, labels) {
				return m.GetCounter().GetValue()
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return 0
}

func matchLabels(m *dto.Metric, labels map[string]string) bool {
	for _, lp := range m.GetLabel() {
		if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
			return false
		}
	}
	return true
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	if c := NewCollector(reg); c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

func TestCollector_CountsDomainEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordThreadCreated()
	c.RecordThreadCreated()
	c.RecordMessagePosted()
	c.RecordMessageEdited()
	c.RecordMessageDeleted(true)

	if got := counterValue(t, reg, "guildfire_threads_created_total", nil); got != 2 {
		t.Errorf("threads_created_total = %v, want 2", got)
	}
	if got := counterValue(t, reg, "guildfire_messages_posted_total", nil); got != 1 {
		t.Errorf("messages_posted_total = %v, want 1", got)
	}
	if got := counterValue(t, reg, "guildfire_messages_edited_total", nil); got != 1 {
		t.Errorf("messages_edited_total = %v, want 1", got)
	}
	if got := counterValue(t, reg, "guildfire_messages_deleted_total", map[string]string{"by": "moderator"}); got != 1 {
		t.Errorf("messages_deleted_total{by=moderator} = %v, want 1", got)
	}
}

func TestCollector_LabelledCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordThreadLockChanged(true)
	c.RecordThreadLockChanged(true)
	c.RecordThreadLockChanged(false)
	c.RecordReactionToggled("added")
	c.RecordReactionToggled("removed")
	c.RecordReactionToggled("added")
	c.RecordDenied("post_message")

	if got := counterValue(t, reg, "guildfire_thread_lock_changes_total", map[string]string{"state": "locked"}); got != 2 {
		t.Errorf("lock_changes{state=locked} = %v, want 2", got)
	}
	if got := counterValue(t, reg, "guildfire_reactions_toggled_total", map[string]string{"result": "added"}); got != 2 {
		t.Errorf("reactions{result=added} = %v, want 2", got)
	}
	if got := counterValue(t, reg, "guildfire_authz_denied_total", map[string]string{"operation": "post_message"}); got != 1 {
		t.Errorf("authz_denied{operation=post_message} = %v, want 1", got)
	}
}

func TestCollector_HTTPAndSessions(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPRequest(403, 15*time.Millisecond)
	c.RecordSessionsPurged(7)

	if got := counterValue(t, reg, "guildfire_http_requests_total", map[string]string{"status_code": "403"}); got != 1 {
		t.Errorf("http_requests{status_code=403} = %v, want 1", got)
	}
	if got := counterValue(t, reg, "guildfire_sessions_purged_total", nil); got != 7 {
		t.Errorf("sessions_purged_total = %v, want 7", got)
	}
}

func TestOrNop(t *testing.T) {
	if _, ok := OrNop(nil).(Nop); !ok {
		t.Error("OrNop(nil) should return Nop")
	}
	c := NewCollector(prometheus.NewRegistry())
	if OrNop(c) != Recorder(c) {
		t.Error("OrNop should return the given recorder")
	}
}
