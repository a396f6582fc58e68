package coder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when the control plane reports a missing
// resource. Callers treat it as absence, not failure.
var ErrNotFound = errors.New("resource not found")

const (
	sessionTokenHeader = "Coder-Session-Token"
	defaultRetries     = 3
	requestTimeout     = 30 * time.Second
)

// Client is the fleet control-plane API. The policy engine is pure with
// respect to this boundary: retries, timeouts and pacing all live on
// this side of it.
type Client interface {
	Ping(ctx context.Context) error
	Workspaces(ctx context.Context) ([]Workspace, error)
	StopWorkspace(ctx context.Context, id uuid.UUID, reason string) error
	Templates(ctx context.Context) ([]Template, error)
	Users(ctx context.Context) ([]User, error)
	Organizations(ctx context.Context) ([]Organization, error)
	Groups(ctx context.Context) ([]Group, error)
	GroupMembers(ctx context.Context, groupID uuid.UUID) ([]User, error)
	UserOrganizations(ctx context.Context, userID uuid.UUID) ([]Organization, error)
	UserGroups(ctx context.Context, userID uuid.UUID) ([]Group, error)
	UserQuietHours(ctx context.Context, username string) (*QuietHoursSchedule, error)
	DeploymentQuietHours(ctx context.Context) (*DeploymentQuietHours, error)
	CurrentUser(ctx context.Context) (*User, error)
}

type client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	retries    int
}

// NewClient creates a client for the given deployment URL and session
// token.
func NewClient(baseURL, token string) Client {
	return &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
		retries: defaultRetries,
	}
}

// NewClientFromEnv builds a client from CODER_URL and
// CODER_SESSION_TOKEN. The token may also be supplied via a file named
// by CODER_SESSION_TOKEN_FILE.
func NewClientFromEnv() (Client, error) {
	rawURL := os.Getenv("CODER_URL")
	if rawURL == "" {
		return nil, fmt.Errorf("CODER_URL environment variable is required")
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		rawURL = "https://" + rawURL
	}

	token := os.Getenv("CODER_SESSION_TOKEN")
	if token == "" {
		if path := os.Getenv("CODER_SESSION_TOKEN_FILE"); path != "" {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("reading token file: %w", err)
			}
			token = strings.TrimSpace(string(data))
		}
	}
	if token == "" {
		return nil, fmt.Errorf("no API token found: set CODER_SESSION_TOKEN or CODER_SESSION_TOKEN_FILE")
	}

	return NewClient(rawURL, token), nil
}

func (c *client) Ping(ctx context.Context) error {
	var resp workspacesResponse
	return c.get(ctx, "/api/v2/workspaces", &resp)
}

func (c *client) Workspaces(ctx context.Context) ([]Workspace, error) {
	var resp workspacesResponse
	if err := c.get(ctx, "/api/v2/workspaces", &resp); err != nil {
		return nil, fmt.Errorf("listing workspaces: %w", err)
	}
	return resp.Workspaces, nil
}

func (c *client) StopWorkspace(ctx context.Context, id uuid.UUID, reason string) error {
	req := buildRequest{Transition: "stop", Reason: reason}
	err := c.post(ctx, fmt.Sprintf("/api/v2/workspaces/%s/builds", id), req, nil)
	if err == nil {
		return nil
	}
	// Some deployments validate the reason field against a fixed set.
	// Retry without it before giving up.
	if strings.Contains(strings.ToLower(err.Error()), "reason") {
		return c.post(ctx, fmt.Sprintf("/api/v2/workspaces/%s/builds", id), buildRequest{Transition: "stop"}, nil)
	}
	return err
}

func (c *client) Templates(ctx context.Context) ([]Template, error) {
	var templates []Template
	if err := c.get(ctx, "/api/v2/templates", &templates); err != nil {
		return nil, fmt.Errorf("listing templates: %w", err)
	}
	return templates, nil
}

func (c *client) Users(ctx context.Context) ([]User, error) {
	var resp usersResponse
	if err := c.get(ctx, "/api/v2/users", &resp); err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	return resp.Users, nil
}

func (c *client) Organizations(ctx context.Context) ([]Organization, error) {
	var orgs []Organization
	if err := c.get(ctx, "/api/v2/organizations", &orgs); err != nil {
		return nil, fmt.Errorf("listing organizations: %w", err)
	}
	return orgs, nil
}

func (c *client) Groups(ctx context.Context) ([]Group, error) {
	var groups []Group
	if err := c.get(ctx, "/api/v2/groups", &groups); err != nil {
		return nil, fmt.Errorf("listing groups: %w", err)
	}
	return groups, nil
}

func (c *client) GroupMembers(ctx context.Context, groupID uuid.UUID) ([]User, error) {
	var members []User
	if err := c.get(ctx, fmt.Sprintf("/api/v2/groups/%s/members", groupID), &members); err != nil {
		return nil, fmt.Errorf("listing members of group %s: %w", groupID, err)
	}
	return members, nil
}

func (c *client) UserOrganizations(ctx context.Context, userID uuid.UUID) ([]Organization, error) {
	var user User
	if err := c.get(ctx, fmt.Sprintf("/api/v2/users/%s", userID), &user); err != nil {
		return nil, fmt.Errorf("fetching user %s: %w", userID, err)
	}

	all, err := c.Organizations(ctx)
	if err != nil {
		return nil, err
	}

	member := make(map[uuid.UUID]bool, len(user.OrganizationIDs))
	for _, id := range user.OrganizationIDs {
		member[id] = true
	}

	var orgs []Organization
	for _, org := range all {
		if member[org.ID] {
			orgs = append(orgs, org)
		}
	}
	return orgs, nil
}

func (c *client) UserGroups(ctx context.Context, userID uuid.UUID) ([]Group, error) {
	all, err := c.Groups(ctx)
	if err != nil {
		return nil, err
	}

	var groups []Group
	for _, group := range all {
		members, err := c.GroupMembers(ctx, group.ID)
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			if m.ID == userID {
				groups = append(groups, group)
				break
			}
		}
	}
	return groups, nil
}

func (c *client) UserQuietHours(ctx context.Context, username string) (*QuietHoursSchedule, error) {
	path := "/api/v2/users/me/quiet-hours"
	if username != "" {
		path = fmt.Sprintf("/api/v2/users/%s/quiet-hours", username)
	}
	var sched QuietHoursSchedule
	if err := c.get(ctx, path, &sched); err != nil {
		return nil, err
	}
	return &sched, nil
}

func (c *client) DeploymentQuietHours(ctx context.Context) (*DeploymentQuietHours, error) {
	var resp deploymentConfigResponse
	if err := c.get(ctx, "/api/v2/deployment/config", &resp); err != nil {
		return nil, fmt.Errorf("fetching deployment config: %w", err)
	}
	return &resp.Config.UserQuietHoursSchedule, nil
}

func (c *client) CurrentUser(ctx context.Context) (*User, error) {
	var user User
	if err := c.get(ctx, "/api/v2/users/me", &user); err != nil {
		return nil, fmt.Errorf("fetching current user: %w", err)
	}
	return &user, nil
}

func (c *client) get(ctx context.Context, path string, result interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, result)
}

func (c *client) post(ctx context.Context, path string, payload, result interface{}) error {
	return c.do(ctx, http.MethodPost, path, payload, result)
}

func (c *client) do(ctx context.Context, method, path string, payload, result interface{}) error {
	var body []byte
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		body = data
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			wait := time.Duration(1<<(attempt-1)) * time.Second
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}

		err := c.doOnce(ctx, method, path, body, result)
		if err == nil {
			return nil
		}
		// Only transport-level failures are retried. API errors are
		// final.
		var transient *transientError
		if !errors.As(err, &transient) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("request failed after %d attempts: %w", c.retries+1, lastErr)
}

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func (c *client) doOnce(ctx context.Context, method, path string, body []byte, result interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(sessionTokenHeader, c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &transientError{err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &transientError{err: fmt.Errorf("reading response: %w", err)}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if result != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, result); err != nil {
				return fmt.Errorf("parsing response from %s: %w", path, err)
			}
		}
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", path, ErrNotFound)
	case resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("permission denied: %s", path)
	case resp.StatusCode >= 500:
		return &transientError{err: fmt.Errorf("HTTP %d: %s", resp.StatusCode, respBody)}
	default:
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("API error %d: %s", resp.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, respBody)
	}
}
