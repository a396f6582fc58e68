package filter

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/devgrid/fleetguard/internal/coder"
)

type fixture struct {
	client *coder.MockClient
	alice  coder.User
	bob    coder.User
	tmplA  uuid.UUID
	tmplB  uuid.UUID
}

func setup(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		client: coder.NewMockClient(),
		alice:  coder.User{ID: uuid.New(), Username: "alice"},
		bob:    coder.User{ID: uuid.New(), Username: "bob"},
		tmplA:  uuid.New(),
		tmplB:  uuid.New(),
	}
	f.client.UserList = []coder.User{f.alice, f.bob}

	engOrg := coder.Organization{ID: uuid.New(), Name: "engineering"}
	salesOrg := coder.Organization{ID: uuid.New(), Name: "sales"}
	f.client.UserOrgs[f.alice.ID] = []coder.Organization{engOrg}
	f.client.UserOrgs[f.bob.ID] = []coder.Organization{salesOrg}

	backend := coder.Group{ID: uuid.New(), Name: "backend"}
	f.client.GroupList = []coder.Group{backend}
	f.client.Members[backend.ID] = []coder.User{f.alice}
	return f
}

func (f *fixture) workspace(owner string, template uuid.UUID) coder.Workspace {
	return coder.Workspace{
		ID:         uuid.New(),
		Name:       "ws",
		OwnerName:  owner,
		TemplateID: template,
		LatestBuild: coder.Build{
			Status: coder.StatusRunning,
		},
	}
}

func passes(t *testing.T, f *fixture, ws coder.Workspace, spec Spec, cache *Cache) bool {
	t.Helper()
	ok, err := Passes(context.Background(), ws, spec, f.client, cache)
	if err != nil {
		t.Fatalf("Passes failed: %v", err)
	}
	return ok
}

func TestPasses_EmptySpecAdmitsAll(t *testing.T) {
	f := setup(t)
	if !passes(t, f, f.workspace("alice", f.tmplA), Spec{}, NewCache()) {
		t.Error("empty spec should admit every workspace")
	}
}

func TestPasses_MissingOwnerRejected(t *testing.T) {
	f := setup(t)
	if passes(t, f, f.workspace("", f.tmplA), Spec{}, NewCache()) {
		t.Error("workspace without an owner must be rejected")
	}
	if passes(t, f, f.workspace("ghost", f.tmplA), Spec{}, NewCache()) {
		t.Error("workspace with an unresolvable owner must be rejected")
	}
}

func TestPasses_UserLists(t *testing.T) {
	f := setup(t)

	spec := Spec{IncludeUsers: []string{"alice"}}
	if !passes(t, f, f.workspace("alice", f.tmplA), spec, NewCache()) {
		t.Error("included user should pass")
	}
	if passes(t, f, f.workspace("bob", f.tmplA), spec, NewCache()) {
		t.Error("user outside the include list should be rejected")
	}

	spec = Spec{ExcludeUsers: []string{"alice"}}
	if passes(t, f, f.workspace("alice", f.tmplA), spec, NewCache()) {
		t.Error("excluded user should be rejected")
	}

	// Exclude overrides include.
	spec = Spec{IncludeUsers: []string{"alice"}, ExcludeUsers: []string{"alice"}}
	if passes(t, f, f.workspace("alice", f.tmplA), spec, NewCache()) {
		t.Error("exclude must override a matching include")
	}
}

func TestPasses_TemplateLists(t *testing.T) {
	f := setup(t)

	spec := Spec{IncludeTemplates: []string{f.tmplA.String()}}
	if !passes(t, f, f.workspace("alice", f.tmplA), spec, NewCache()) {
		t.Error("included template should pass")
	}
	if passes(t, f, f.workspace("alice", f.tmplB), spec, NewCache()) {
		t.Error("template outside the include list should be rejected")
	}

	spec = Spec{ExcludeTemplates: []string{f.tmplB.String()}}
	if passes(t, f, f.workspace("alice", f.tmplB), spec, NewCache()) {
		t.Error("excluded template should be rejected")
	}
}

func TestPasses_OrganizationLists(t *testing.T) {
	f := setup(t)

	spec := Spec{IncludeOrganizations: []string{"engineering"}}
	if !passes(t, f, f.workspace("alice", f.tmplA), spec, NewCache()) {
		t.Error("alice is in engineering and should pass")
	}
	if passes(t, f, f.workspace("bob", f.tmplA), spec, NewCache()) {
		t.Error("bob is not in engineering and should be rejected")
	}

	spec = Spec{ExcludeOrganizations: []string{"sales"}}
	if passes(t, f, f.workspace("bob", f.tmplA), spec, NewCache()) {
		t.Error("bob is in sales and should be rejected")
	}

	spec = Spec{
		IncludeOrganizations: []string{"engineering", "sales"},
		ExcludeOrganizations: []string{"sales"},
	}
	if passes(t, f, f.workspace("bob", f.tmplA), spec, NewCache()) {
		t.Error("org exclude must override a matching include")
	}
}

func TestPasses_GroupLists(t *testing.T) {
	f := setup(t)

	spec := Spec{IncludeGroups: []string{"backend"}}
	if !passes(t, f, f.workspace("alice", f.tmplA), spec, NewCache()) {
		t.Error("alice is in backend and should pass")
	}
	if passes(t, f, f.workspace("bob", f.tmplA), spec, NewCache()) {
		t.Error("bob is not in backend and should be rejected")
	}

	spec = Spec{ExcludeGroups: []string{"backend"}}
	if passes(t, f, f.workspace("alice", f.tmplA), spec, NewCache()) {
		t.Error("alice is in backend and should be rejected")
	}
}

func TestApply_MemoizesLookups(t *testing.T) {
	f := setup(t)
	cache := NewCache()
	spec := Spec{IncludeOrganizations: []string{"engineering"}, IncludeGroups: []string{"backend"}}

	// Many workspaces for the same owner: one user fetch, one org
	// resolution, one group resolution.
	workspaces := []coder.Workspace{
		f.workspace("alice", f.tmplA),
		f.workspace("alice", f.tmplA),
		f.workspace("alice", f.tmplB),
	}
	passed, err := Apply(context.Background(), workspaces, spec, f.client, cache)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if len(passed) != 3 {
		t.Errorf("expected 3 passing workspaces, got %d", len(passed))
	}

	if f.client.UsersCalls != 1 {
		t.Errorf("expected 1 user list fetch, got %d", f.client.UsersCalls)
	}
	if f.client.UserOrgsCalls != 1 {
		t.Errorf("expected 1 org resolution, got %d", f.client.UserOrgsCalls)
	}
	if f.client.UserGroupsCalls != 1 {
		t.Errorf("expected 1 group resolution, got %d", f.client.UserGroupsCalls)
	}
}

func TestCache_TemplateName(t *testing.T) {
	f := setup(t)
	f.client.TemplateList = []coder.Template{{ID: f.tmplA, Name: "ubuntu-dev"}}
	cache := NewCache()
	ctx := context.Background()

	if name := cache.TemplateName(ctx, f.client, f.tmplA); name != "ubuntu-dev" {
		t.Errorf("expected ubuntu-dev, got %s", name)
	}
	// Unknown templates fall back to the raw ID.
	if name := cache.TemplateName(ctx, f.client, f.tmplB); name != f.tmplB.String() {
		t.Errorf("expected ID fallback, got %s", name)
	}
	cache.TemplateName(ctx, f.client, f.tmplA)
	if f.client.TemplatesCalls != 1 {
		t.Errorf("expected 1 template list fetch, got %d", f.client.TemplatesCalls)
	}
}
