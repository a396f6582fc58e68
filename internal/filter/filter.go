// Package filter evaluates include/exclude predicates over workspace
// identity: owner, template, organization and group membership.
package filter

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/devgrid/fleetguard/internal/coder"
)

// Resolver supplies the identity lookups the filter needs. The
// control-plane client satisfies it.
type Resolver interface {
	Users(ctx context.Context) ([]coder.User, error)
	UserOrganizations(ctx context.Context, userID uuid.UUID) ([]coder.Organization, error)
	UserGroups(ctx context.Context, userID uuid.UUID) ([]coder.Group, error)
	Templates(ctx context.Context) ([]coder.Template, error)
}

// Spec is a set of include/exclude identity lists. An empty include
// list means no restriction on that dimension; a matching exclude
// always overrides a matching include. Users, organizations and groups
// are matched by name, templates by ID.
type Spec struct {
	IncludeOrganizations []string
	ExcludeOrganizations []string
	IncludeGroups        []string
	ExcludeGroups        []string
	IncludeUsers         []string
	ExcludeUsers         []string
	IncludeTemplates     []string
	ExcludeTemplates     []string
}

// Empty reports whether the spec imposes no restrictions at all.
func (s Spec) Empty() bool {
	return len(s.IncludeOrganizations) == 0 && len(s.ExcludeOrganizations) == 0 &&
		len(s.IncludeGroups) == 0 && len(s.ExcludeGroups) == 0 &&
		len(s.IncludeUsers) == 0 && len(s.ExcludeUsers) == 0 &&
		len(s.IncludeTemplates) == 0 && len(s.ExcludeTemplates) == 0
}

// Passes evaluates the spec against one workspace. Dimensions are
// checked cheapest first: owner presence, then user and template
// lists, then organization and group membership, which require
// resolver calls memoized in the run cache. A workspace whose owner
// cannot be resolved is rejected. Resolver failures abort the run;
// the caller never works from a partial picture.
func Passes(ctx context.Context, ws coder.Workspace, spec Spec, r Resolver, cache *Cache) (bool, error) {
	if ws.OwnerName == "" {
		return false, nil
	}

	user, err := cache.User(ctx, r, ws.OwnerName)
	if err != nil {
		return false, fmt.Errorf("resolving owner %q: %w", ws.OwnerName, err)
	}
	if user == nil {
		return false, nil
	}

	if !matches(ws.OwnerName, spec.IncludeUsers, spec.ExcludeUsers) {
		return false, nil
	}
	if !matches(ws.TemplateID.String(), spec.IncludeTemplates, spec.ExcludeTemplates) {
		return false, nil
	}

	if len(spec.IncludeOrganizations) > 0 || len(spec.ExcludeOrganizations) > 0 {
		orgs, err := cache.OrganizationNames(ctx, r, user.ID)
		if err != nil {
			return false, fmt.Errorf("resolving organizations for %q: %w", ws.OwnerName, err)
		}
		if !matchesAny(orgs, spec.IncludeOrganizations, spec.ExcludeOrganizations) {
			return false, nil
		}
	}

	if len(spec.IncludeGroups) > 0 || len(spec.ExcludeGroups) > 0 {
		groups, err := cache.GroupNames(ctx, r, user.ID)
		if err != nil {
			return false, fmt.Errorf("resolving groups for %q: %w", ws.OwnerName, err)
		}
		if !matchesAny(groups, spec.IncludeGroups, spec.ExcludeGroups) {
			return false, nil
		}
	}

	return true, nil
}

// Apply filters a workspace slice, preserving order.
func Apply(ctx context.Context, workspaces []coder.Workspace, spec Spec, r Resolver, cache *Cache) ([]coder.Workspace, error) {
	if spec.Empty() {
		return workspaces, nil
	}

	var passed []coder.Workspace
	for _, ws := range workspaces {
		ok, err := Passes(ctx, ws, spec, r, cache)
		if err != nil {
			return nil, err
		}
		if ok {
			passed = append(passed, ws)
		}
	}
	return passed, nil
}

// matches applies include/exclude lists to a single identity value.
func matches(value string, include, exclude []string) bool {
	if len(include) > 0 && !contains(include, value) {
		return false
	}
	return !contains(exclude, value)
}

// matchesAny applies include/exclude lists to a membership set: any
// member matching the include list admits, any member matching the
// exclude list rejects, and exclusion wins.
func matchesAny(values, include, exclude []string) bool {
	if len(include) > 0 {
		admitted := false
		for _, v := range values {
			if contains(include, v) {
				admitted = true
				break
			}
		}
		if !admitted {
			return false
		}
	}
	for _, v := range values {
		if contains(exclude, v) {
			return false
		}
	}
	return true
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
