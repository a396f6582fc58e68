package coder

import (
	"time"

	"github.com/google/uuid"
)

type BuildStatus string

const (
	StatusRunning  BuildStatus = "running"
	StatusStopped  BuildStatus = "stopped"
	StatusStarting BuildStatus = "starting"
	StatusStopping BuildStatus = "stopping"
	StatusUnknown  BuildStatus = ""
)

// Build is the latest build of a workspace. Deadline is the zero time
// when the build has no autostop deadline.
type Build struct {
	ID          uuid.UUID   `json:"id"`
	Status      BuildStatus `json:"status"`
	Transition  string      `json:"transition"`
	Deadline    time.Time   `json:"deadline,omitempty"`
	MaxDeadline time.Time   `json:"max_deadline,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Workspace is an immutable snapshot of a remote workspace as reported
// by the control plane. It is fetched fresh each evaluation run and
// discarded afterwards.
type Workspace struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	OwnerID      uuid.UUID `json:"owner_id"`
	OwnerName    string    `json:"owner_name"`
	TemplateID   uuid.UUID `json:"template_id"`
	TemplateName string    `json:"template_name,omitempty"`
	TTLMillis    int64     `json:"ttl_ms,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	LatestBuild  Build     `json:"latest_build"`
}

// Running reports whether the workspace's latest build is running.
func (w Workspace) Running() bool {
	return w.LatestBuild.Status == StatusRunning
}

type Template struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name,omitempty"`
}

type User struct {
	ID              uuid.UUID   `json:"id"`
	Username        string      `json:"username"`
	Email           string      `json:"email,omitempty"`
	OrganizationIDs []uuid.UUID `json:"organization_ids,omitempty"`
}

type Organization struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

type Group struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	OrganizationID uuid.UUID `json:"organization_id"`
}

// QuietHoursSchedule is the per-user quiet hours configuration returned
// by the control plane. RawSchedule carries a restricted cron expression
// such as "CRON_TZ=Europe/London 32 13 * * *".
type QuietHoursSchedule struct {
	RawSchedule string    `json:"raw_schedule"`
	UserSet     bool      `json:"user_set"`
	UserCanSet  bool      `json:"user_can_set"`
	Time        string    `json:"time,omitempty"`
	Timezone    string    `json:"timezone,omitempty"`
	Next        time.Time `json:"next,omitempty"`
}

// DeploymentQuietHours is the deployment-wide quiet hours policy.
type DeploymentQuietHours struct {
	DefaultSchedule string `json:"default_schedule"`
	AllowUserCustom bool   `json:"allow_user_custom"`
}

type workspacesResponse struct {
	Workspaces []Workspace `json:"workspaces"`
	Count      int         `json:"count"`
}

type usersResponse struct {
	Users []User `json:"users"`
}

type deploymentConfigResponse struct {
	Config struct {
		UserQuietHoursSchedule DeploymentQuietHours `json:"user_quiet_hours_schedule"`
	} `json:"config"`
}

type buildRequest struct {
	Transition string `json:"transition"`
	Reason     string `json:"reason,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}
