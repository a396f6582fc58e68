package policy

import (
	"testing"
	"time"
)

var analyzeNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func TestAnalyzeDeadline_Expiry(t *testing.T) {
	// One second past the deadline is expired.
	st := AnalyzeDeadline(analyzeNow.Add(-time.Second), analyzeNow)
	if !st.Expired {
		t.Error("deadline 1s ago should be expired")
	}
	if st.SecondsLeft != -1 {
		t.Errorf("expected -1 seconds, got %d", st.SecondsLeft)
	}

	// One second before the deadline is not.
	st = AnalyzeDeadline(analyzeNow.Add(time.Second), analyzeNow)
	if st.Expired {
		t.Error("deadline 1s ahead should not be expired")
	}

	// Exactly at the deadline: non-negative, not yet expired.
	st = AnalyzeDeadline(analyzeNow, analyzeNow)
	if st.Expired {
		t.Error("deadline at now should not be expired")
	}
	if st.SecondsLeft != 0 {
		t.Errorf("expected 0 seconds, got %d", st.SecondsLeft)
	}
}

func TestAnalyzeDeadline_Buckets(t *testing.T) {
	cases := []struct {
		ahead time.Duration
		want  string
	}{
		{3599 * time.Second, "59m"},          // just under an hour: minutes only
		{3600 * time.Second, "1h 0m"},        // exactly an hour: hours + minutes
		{86399 * time.Second, "23h 59m"},     // just under a day
		{86400 * time.Second, "1d 0h"},       // exactly a day: days + hours
		{30 * time.Minute, "30m"},
		{2*time.Hour + 30*time.Minute, "2h 30m"},
		{3*24*time.Hour + 4*time.Hour, "3d 4h"},
	}
	for _, tc := range cases {
		st := AnalyzeDeadline(analyzeNow.Add(tc.ahead), analyzeNow)
		if st.Label != tc.want {
			t.Errorf("deadline +%v: expected %q, got %q", tc.ahead, tc.want, st.Label)
		}
	}
}

func TestAnalyzeDeadline_ExpiredLabels(t *testing.T) {
	cases := []struct {
		behind time.Duration
		want   string
	}{
		{10 * time.Minute, "Expired 10m ago"},
		{time.Hour + 10*time.Minute, "Expired 1h 10m ago"},
		{2*24*time.Hour + 5*time.Hour, "Expired 2d 5h ago"},
	}
	for _, tc := range cases {
		st := AnalyzeDeadline(analyzeNow.Add(-tc.behind), analyzeNow)
		if st.Label != tc.want {
			t.Errorf("deadline -%v: expected %q, got %q", tc.behind, tc.want, st.Label)
		}
		if !st.Expired {
			t.Errorf("deadline -%v should be expired", tc.behind)
		}
	}
}

func TestAnalyzeDeadline_Missing(t *testing.T) {
	st := AnalyzeDeadline(time.Time{}, analyzeNow)
	if st.Label != "N/A" || st.SecondsLeft != 0 || st.Expired {
		t.Errorf("missing deadline should be N/A/0/false, got %+v", st)
	}
}

func TestFormatTTL(t *testing.T) {
	cases := []struct {
		ttl  time.Duration
		want string
	}{
		{0, "N/A"},
		{30 * time.Minute, "30m"},
		{8 * time.Hour, "8h"},
		{24 * time.Hour, "1d"},
		{26 * time.Hour, "1d 2h"},
	}
	for _, tc := range cases {
		if got := FormatTTL(tc.ttl); got != tc.want {
			t.Errorf("FormatTTL(%v) = %q, want %q", tc.ttl, got, tc.want)
		}
	}
}
