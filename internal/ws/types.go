package ws

import (
	"encoding/json"
	"time"
)

// Envelope is the top-level WebSocket message format.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// --- Client -> Server messages ---

// SubscribePayload requests subscription to a channel.
type SubscribePayload struct {
	Channel string `json:"channel"` // "status", "sweeps"
}

// UnsubscribePayload cancels a subscription.
type UnsubscribePayload struct {
	Channel string `json:"channel"`
}

// --- Server -> Client messages ---

// SweepStartedPayload announces the beginning of an evaluation pass.
type SweepStartedPayload struct {
	StartedAt time.Time `json:"startedAt"`
	DryRun    bool      `json:"dryRun"`
	ForceTTL  bool      `json:"forceTTL"`
}

// SweepCompletedPayload summarizes a finished evaluation pass.
type SweepCompletedPayload struct {
	StartedAt        time.Time `json:"startedAt"`
	QuietHoursActive bool      `json:"quietHoursActive"`
	GracePeriodOver  bool      `json:"gracePeriodOver"`
	Running          int       `json:"running"`
	Expired          int       `json:"expired"`
	Stopping         int       `json:"stopping"`
	Grace            int       `json:"grace"`
	Excluded         int       `json:"excluded"`
	Stopped          int       `json:"stopped"`
	WouldStop        int       `json:"wouldStop"`
	Failed           int       `json:"failed"`
}

// WorkspaceStoppedPayload is sent for each workspace a pass stops.
type WorkspaceStoppedPayload struct {
	WorkspaceID string `json:"workspaceID"`
	Owner       string `json:"owner"`
	Name        string `json:"name"`
	Reason      string `json:"reason"`
	DryRun      bool   `json:"dryRun"`
	Error       string `json:"error,omitempty"`
}

// StatusSnapshotPayload is the full engine state sent on subscribe and
// periodically.
type StatusSnapshotPayload struct {
	Now              time.Time `json:"now"`
	Timezone         string    `json:"timezone"`
	QuietHoursActive bool      `json:"quietHoursActive"`
	GracePeriodOver  bool      `json:"gracePeriodOver"`
	LastSweepAt      time.Time `json:"lastSweepAt,omitempty"`
	Running          int       `json:"running"`
	Eligible         int       `json:"eligible"`
	Excluded         int       `json:"excluded"`
}

// Message type constants.
const (
	// Client -> Server
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"

	// Server -> Client
	TypeStatusSnapshot   = "status.snapshot"
	TypeSweepStarted     = "sweep.started"
	TypeSweepCompleted   = "sweep.completed"
	TypeWorkspaceStopped = "workspace.stopped"
)

// Channel name constants.
const (
	ChannelStatus = "status"
	ChannelSweeps = "sweeps"
)

// MakeEnvelope creates an Envelope with the given type and payload.
func MakeEnvelope(msgType string, payload interface{}) ([]byte, error) {
	p, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: msgType, Payload: p})
}
