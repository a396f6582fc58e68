// Package api defines the HTTP contract between guardd and guardctl.
package api

import "time"

// SweepRequest asks the daemon to perform an evaluation pass.
type SweepRequest struct {
	Execute  bool `json:"execute"`
	ForceTTL bool `json:"forceTTL,omitempty"`
	DryRun   bool `json:"dryRun,omitempty"`
}

// SweepSummary condenses one completed pass.
type SweepSummary struct {
	StartedAt        time.Time `json:"startedAt"`
	QuietHoursActive bool      `json:"quietHoursActive"`
	GracePeriodOver  bool      `json:"gracePeriodOver"`
	Running          int       `json:"running"`
	Expired          int       `json:"expired"`
	Stopping         int       `json:"stopping"`
	Grace            int       `json:"grace"`
	PastEnd          int       `json:"pastEnd"`
	Normal           int       `json:"normal"`
	Excluded         int       `json:"excluded"`
	Stopped          int       `json:"stopped"`
	WouldStop        int       `json:"wouldStop"`
	Failed           int       `json:"failed"`
}

// StatusResponse reports the daemon's current view of the policy.
type StatusResponse struct {
	Now              time.Time     `json:"now"`
	Timezone         string        `json:"timezone"`
	QuietHoursStart  string        `json:"quietHoursStart"`
	QuietHoursEnd    string        `json:"quietHoursEnd"`
	QuietHoursActive bool          `json:"quietHoursActive"`
	GracePeriodOver  bool          `json:"gracePeriodOver"`
	DryRun           bool          `json:"dryRun"`
	CheckInterval    time.Duration `json:"checkInterval"`
	LastSweep        *SweepSummary `json:"lastSweep,omitempty"`
}

// ErrorResponse is a standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
