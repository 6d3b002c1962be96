package inject

import (
	"testing"
	"time"

	"github.com/takohq/tako/internal/config"
)

func TestNewSchedulerFiltersBadEntries(t *testing.T) {
	s := NewScheduler([]config.ScheduleConfig{
		{Cron: "not a cron", Text: "x"},
		{Cron: "* * * * *", Text: "   "},
		{Cron: "* * * * *", Text: "ok"},
	})
	if len(s.entries) != 1 {
		t.Fatalf("scheduler kept %d entries, want 1", len(s.entries))
	}
	if s.entries[0].Text != "ok" {
		t.Errorf("kept entry = %+v", s.entries[0])
	}
}

func TestTickDeliversDueEntries(t *testing.T) {
	s := NewScheduler([]config.ScheduleConfig{
		{Cron: "0 9 * * *", Text: "standup time", NewSession: true},
	})

	var got []Injection
	deliver := func(i Injection) { got = append(got, i) }

	s.tick(time.Date(2026, 1, 5, 10, 30, 0, 0, time.UTC), deliver)
	if len(got) != 0 {
		t.Fatalf("tick fired off-schedule: %+v", got)
	}

	s.tick(time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC), deliver)
	if len(got) != 1 {
		t.Fatalf("tick delivered %d injections, want 1", len(got))
	}
	if got[0].Text != "[SYSTEM] standup time" || !got[0].NewSession {
		t.Errorf("injection = %+v", got[0])
	}
}

func TestTickEveryMinuteExpression(t *testing.T) {
	s := NewScheduler([]config.ScheduleConfig{{Cron: "* * * * *", Text: "ping"}})

	var got []Injection
	s.tick(time.Date(2026, 3, 14, 15, 9, 0, 0, time.UTC), func(i Injection) { got = append(got, i) })
	if len(got) != 1 || got[0].Text != "[SYSTEM] ping" {
		t.Errorf("tick delivered %+v", got)
	}
}
