package api

import (
	"strings"
	"testing"
	"time"
)

func intPtr(v int) *int { return &v }

func TestScheduleRequestValidate(t *testing.T) {
	valid := func() scheduleRequest {
		return scheduleRequest{
			Recipients:         []string{"a@example.com", "b@example.com"},
			Subject:            "hello",
			Body:               "<p>hi</p>",
			DelayBetweenEmails: intPtr(30),
			HourlyLimit:        intPtr(100),
		}
	}

	t.Run("valid", func(t *testing.T) {
		req := valid()
		parsed, errMsg := req.validate(30)
		if errMsg != "" {
			t.Fatalf("validate() = %q; want no error", errMsg)
		}
		if parsed.DelaySeconds != 30 || parsed.HourlyLimit != 100 {
			t.Errorf("parsed = %+v", parsed)
		}
	})

	t.Run("defaults applied", func(t *testing.T) {
		req := valid()
		req.DelayBetweenEmails = nil
		req.HourlyLimit = nil
		parsed, errMsg := req.validate(30)
		if errMsg != "" {
			t.Fatalf("validate() = %q", errMsg)
		}
		if parsed.DelaySeconds != 30 || parsed.HourlyLimit != 100 {
			t.Errorf("defaults = %d/%d; want 30/100", parsed.DelaySeconds, parsed.HourlyLimit)
		}
	})

	t.Run("start time parsed", func(t *testing.T) {
		req := valid()
		req.StartTime = "2026-09-01T10:00:00Z"
		parsed, errMsg := req.validate(30)
		if errMsg != "" {
			t.Fatalf("validate() = %q", errMsg)
		}
		want := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
		if !parsed.StartTime.Equal(want) {
			t.Errorf("start = %v; want %v", parsed.StartTime, want)
		}
	})

	rejects := []struct {
		name   string
		mutate func(*scheduleRequest)
		want   string
	}{
		{"no recipients", func(r *scheduleRequest) { r.Recipients = nil }, "recipients"},
		{"bad address", func(r *scheduleRequest) { r.Recipients = []string{"not-an-email"} }, "invalid recipient"},
		{"empty subject", func(r *scheduleRequest) { r.Subject = "  " }, "subject"},
		{"empty body", func(r *scheduleRequest) { r.Body = "" }, "body"},
		{"negative delay", func(r *scheduleRequest) { r.DelayBetweenEmails = intPtr(-1) }, "delayBetweenEmails"},
		{"delay too large", func(r *scheduleRequest) { r.DelayBetweenEmails = intPtr(3601) }, "delayBetweenEmails"},
		{"zero hourly limit", func(r *scheduleRequest) { r.HourlyLimit = intPtr(0) }, "hourlyLimit"},
		{"hourly limit too large", func(r *scheduleRequest) { r.HourlyLimit = intPtr(1001) }, "hourlyLimit"},
		{"bad start time", func(r *scheduleRequest) { r.StartTime = "tomorrow" }, "startTime"},
	}
	for _, tc := range rejects {
		t.Run(tc.name, func(t *testing.T) {
			req := valid()
			tc.mutate(&req)
			if _, errMsg := req.validate(30); !strings.Contains(errMsg, tc.want) {
				t.Errorf("validate() = %q; want mention of %q", errMsg, tc.want)
			}
		})
	}
}

func TestNewPagination(t *testing.T) {
	p := newPagination(2, 20, 45)
	if p.TotalPages != 3 {
		t.Errorf("TotalPages = %d; want 3", p.TotalPages)
	}
	if !p.HasMore {
		t.Error("HasMore = false on page 2 of 3")
	}
	if p := newPagination(3, 20, 45); p.HasMore {
		t.Error("HasMore = true on the last page")
	}
	if p := newPagination(1, 20, 0); p.TotalPages != 0 || p.HasMore {
		t.Errorf("empty list: totalPages=%d hasMore=%v; want 0/false", p.TotalPages, p.HasMore)
	}
}
