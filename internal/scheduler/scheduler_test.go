package scheduler

import (
	"strings"
	"testing"
)

func TestAddJob(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	if err := s.AddJob("ping", "* * * * *", func() {}); err != nil {
		t.Errorf("valid expression should be accepted, got %v", err)
	}
}

func TestAddJobRejectsInvalidExpression(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	err := s.AddJob("broken", "not a cron expr", func() {})
	if err == nil {
		t.Fatal("invalid expression should be rejected")
	}
	if !strings.Contains(err.Error(), "broken") {
		t.Errorf("error should name the job, got %v", err)
	}
	if err := s.AddJob("six-field", "0 0 * * * *", func() {}); err == nil {
		t.Errorf("6-field expressions should be rejected by the 5-field parser")
	}
}
