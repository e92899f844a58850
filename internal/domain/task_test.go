package domain_test

import (
	"testing"
	"time"

	"github.com/ramiqadoumi/delegate-rebroadcast/internal/domain"
)

func TestStatusConstants(t *testing.T) {
	tests := []struct {
		status domain.Status
		want   string
	}{
		{domain.StatusQueued, "QUEUED"},
		{domain.StatusAssigned, "ASSIGNED"},
		{domain.StatusExpired, "EXPIRED"},
		{domain.StatusFailed, "FAILED"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if string(tt.status) != tt.want {
				t.Errorf("Status value = %q, want %q", tt.status, tt.want)
			}
		})
	}
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []domain.Status{domain.StatusExpired, domain.StatusFailed} {
		if !s.IsTerminal() {
			t.Errorf("IsTerminal(%q) = false, want true", s)
		}
	}
	for _, s := range []domain.Status{domain.StatusQueued, domain.StatusAssigned} {
		if s.IsTerminal() {
			t.Errorf("IsTerminal(%q) = true, want false", s)
		}
	}
}

func TestReadyFilter_Matches(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	f := domain.ReadyFilter{Now: now, MaxRound: domain.MaxRound}

	ready := func() *domain.Task {
		return &domain.Task{
			ID:              "t",
			Status:          domain.StatusQueued,
			NextBroadcastAt: now.Add(-time.Second),
			Expiry:          now.Add(time.Hour),
		}
	}

	tests := []struct {
		name   string
		mutate func(*domain.Task)
		want   bool
	}{
		{"ready", func(*domain.Task) {}, true},
		{"assigned status", func(t *domain.Task) { t.Status = domain.StatusAssigned }, false},
		{"failed status", func(t *domain.Task) { t.Status = domain.StatusFailed }, false},
		{"delegate set", func(t *domain.Task) { t.DelegateID = "d1" }, false},
		{"not yet due", func(t *domain.Task) { t.NextBroadcastAt = now.Add(time.Second) }, false},
		{"due exactly now", func(t *domain.Task) { t.NextBroadcastAt = now }, false},
		{"expired", func(t *domain.Task) { t.Expiry = now.Add(-time.Second) }, false},
		{"round at max", func(t *domain.Task) { t.BroadcastRound = domain.MaxRound }, true},
		{"round beyond max", func(t *domain.Task) { t.BroadcastRound = domain.MaxRound + 1 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := ready()
			tt.mutate(task)
			if got := f.Matches(task); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReadyFilter_After(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	due := now.Add(-time.Minute)
	cursor := domain.CursorAt(&domain.Task{ID: "m", NextBroadcastAt: due})
	f := domain.ReadyFilter{Now: now, MaxRound: domain.MaxRound, After: cursor}

	tests := []struct {
		name string
		id   string
		at   time.Time
		want bool
	}{
		{"the cursor row itself", "m", due, false},
		{"same time, lower id", "a", due, false},
		{"same time, higher id", "z", due, true},
		{"earlier time", "z", due.Add(-time.Second), false},
		{"later time", "a", due.Add(time.Second), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := &domain.Task{
				ID:              tt.id,
				Status:          domain.StatusQueued,
				NextBroadcastAt: tt.at,
				Expiry:          now.Add(time.Hour),
			}
			if got := f.Matches(task); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExhausted(t *testing.T) {
	task := &domain.Task{BroadcastRound: 3}
	if task.Exhausted(domain.MaxRound) {
		t.Error("round 3 of 5 should not be exhausted")
	}
	if !task.Exhausted(3) {
		t.Error("round 3 of 3 should be exhausted")
	}
}

func TestCapacity_LimitFor(t *testing.T) {
	c := domain.Capacity{TaskLimit: 7, MaxBuildSlots: 3}
	if got := c.LimitFor("CI_BUILD"); got != 3 {
		t.Errorf("CI limit = %d, want 3", got)
	}
	if got := c.LimitFor("INITIALIZATION_PHASE"); got != 3 {
		t.Errorf("initialization limit = %d, want 3", got)
	}
	if got := c.LimitFor("SHELL_SCRIPT"); got != 7 {
		t.Errorf("generic limit = %d, want 7", got)
	}
}
