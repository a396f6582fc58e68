package coder

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// MockClient implements the Client interface for testing.
type MockClient struct {
	WorkspaceList    []Workspace
	TemplateList     []Template
	UserList         []User
	OrganizationList []Organization
	GroupList        []Group
	Members          map[uuid.UUID][]User         // group ID -> members
	UserOrgs         map[uuid.UUID][]Organization // user ID -> orgs
	Schedules        map[string]*QuietHoursSchedule
	Deployment       *DeploymentQuietHours
	Me               *User

	Stopped     []uuid.UUID
	StopReasons map[uuid.UUID]string
	StopErr     map[uuid.UUID]error

	WorkspacesErr error
	UsersErr      error

	// Call counters for verifying lookup memoization.
	UsersCalls      int
	UserOrgsCalls   int
	UserGroupsCalls int
	TemplatesCalls  int
}

func NewMockClient() *MockClient {
	return &MockClient{
		Members:     make(map[uuid.UUID][]User),
		UserOrgs:    make(map[uuid.UUID][]Organization),
		Schedules:   make(map[string]*QuietHoursSchedule),
		StopReasons: make(map[uuid.UUID]string),
		StopErr:     make(map[uuid.UUID]error),
	}
}

func (m *MockClient) Ping(ctx context.Context) error {
	return m.WorkspacesErr
}

func (m *MockClient) Workspaces(ctx context.Context) ([]Workspace, error) {
	if m.WorkspacesErr != nil {
		return nil, m.WorkspacesErr
	}
	return m.WorkspaceList, nil
}

func (m *MockClient) StopWorkspace(ctx context.Context, id uuid.UUID, reason string) error {
	if err := m.StopErr[id]; err != nil {
		return err
	}
	m.Stopped = append(m.Stopped, id)
	m.StopReasons[id] = reason
	return nil
}

func (m *MockClient) Templates(ctx context.Context) ([]Template, error) {
	m.TemplatesCalls++
	return m.TemplateList, nil
}

func (m *MockClient) Users(ctx context.Context) ([]User, error) {
	m.UsersCalls++
	if m.UsersErr != nil {
		return nil, m.UsersErr
	}
	return m.UserList, nil
}

func (m *MockClient) Organizations(ctx context.Context) ([]Organization, error) {
	return m.OrganizationList, nil
}

func (m *MockClient) Groups(ctx context.Context) ([]Group, error) {
	return m.GroupList, nil
}

func (m *MockClient) GroupMembers(ctx context.Context, groupID uuid.UUID) ([]User, error) {
	return m.Members[groupID], nil
}

func (m *MockClient) UserOrganizations(ctx context.Context, userID uuid.UUID) ([]Organization, error) {
	m.UserOrgsCalls++
	return m.UserOrgs[userID], nil
}

func (m *MockClient) UserGroups(ctx context.Context, userID uuid.UUID) ([]Group, error) {
	m.UserGroupsCalls++
	var groups []Group
	for _, group := range m.GroupList {
		for _, member := range m.Members[group.ID] {
			if member.ID == userID {
				groups = append(groups, group)
				break
			}
		}
	}
	return groups, nil
}

func (m *MockClient) UserQuietHours(ctx context.Context, username string) (*QuietHoursSchedule, error) {
	sched, ok := m.Schedules[username]
	if !ok {
		return nil, fmt.Errorf("quiet hours for %q: %w", username, ErrNotFound)
	}
	return sched, nil
}

func (m *MockClient) DeploymentQuietHours(ctx context.Context) (*DeploymentQuietHours, error) {
	if m.Deployment == nil {
		return nil, fmt.Errorf("deployment config: %w", ErrNotFound)
	}
	return m.Deployment, nil
}

func (m *MockClient) CurrentUser(ctx context.Context) (*User, error) {
	if m.Me == nil {
		return nil, fmt.Errorf("current user: %w", ErrNotFound)
	}
	return m.Me, nil
}
