package filter

import (
	"context"

	"github.com/google/uuid"

	"github.com/devgrid/fleetguard/internal/coder"
)

// Cache memoizes identity lookups for the lifetime of a single
// evaluation run, bounding resolver call volume when many workspaces
// share an owner. Construct a fresh one per run and discard it
// afterwards; it must never outlive the run or be shared between
// independent runs.
type Cache struct {
	users        map[string]*coder.User // nil entry: user not found
	usersPrimed  bool
	orgNames     map[uuid.UUID][]string
	groupNames   map[uuid.UUID][]string
	templateName map[uuid.UUID]string
	templates    bool
}

func NewCache() *Cache {
	return &Cache{
		users:        make(map[string]*coder.User),
		orgNames:     make(map[uuid.UUID][]string),
		groupNames:   make(map[uuid.UUID][]string),
		templateName: make(map[uuid.UUID]string),
	}
}

// User resolves a username to a user record. The full user list is
// fetched once per run; a nil result with nil error means the user does
// not exist.
func (c *Cache) User(ctx context.Context, r Resolver, username string) (*coder.User, error) {
	if user, ok := c.users[username]; ok {
		return user, nil
	}
	if !c.usersPrimed {
		users, err := r.Users(ctx)
		if err != nil {
			return nil, err
		}
		for i := range users {
			c.users[users[i].Username] = &users[i]
		}
		c.usersPrimed = true
	}
	// Absent after priming: record the miss so repeated lookups stay
	// cheap.
	if _, ok := c.users[username]; !ok {
		c.users[username] = nil
	}
	return c.users[username], nil
}

// OrganizationNames resolves the organization names a user belongs to,
// memoized by user ID.
func (c *Cache) OrganizationNames(ctx context.Context, r Resolver, userID uuid.UUID) ([]string, error) {
	if names, ok := c.orgNames[userID]; ok {
		return names, nil
	}
	orgs, err := r.UserOrganizations(ctx, userID)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(orgs))
	for _, org := range orgs {
		names = append(names, org.Name)
	}
	c.orgNames[userID] = names
	return names, nil
}

// GroupNames resolves the group names a user belongs to, memoized by
// user ID.
func (c *Cache) GroupNames(ctx context.Context, r Resolver, userID uuid.UUID) ([]string, error) {
	if names, ok := c.groupNames[userID]; ok {
		return names, nil
	}
	groups, err := r.UserGroups(ctx, userID)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(groups))
	for _, group := range groups {
		names = append(names, group.Name)
	}
	c.groupNames[userID] = names
	return names, nil
}

// TemplateName resolves a template ID to its name, falling back to the
// ID string when the template is unknown. The template list is fetched
// once per run.
func (c *Cache) TemplateName(ctx context.Context, r Resolver, id uuid.UUID) string {
	if !c.templates {
		if templates, err := r.Templates(ctx); err == nil {
			for _, tmpl := range templates {
				c.templateName[tmpl.ID] = tmpl.Name
			}
			c.templates = true
		}
	}
	if name, ok := c.templateName[id]; ok {
		return name
	}
	return id.String()
}
