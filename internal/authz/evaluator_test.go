package authz_test

import (
	"errors"
	"testing"

	"github.com/atrium-cms/atrium/internal/authz"
)

func newEvaluator() *authz.Evaluator {
	return authz.NewEvaluator(authz.DefaultTable())
}

func TestDefaultDenyTotality(t *testing.T) {
	eval := newEvaluator()

	// Tuples deliberately absent from the table must all deny, for every
	// non-admin role.
	cases := []struct {
		role     authz.Role
		resource authz.Resource
		action   authz.Action
	}{
		{authz.RoleUser, authz.ResourceUser, authz.ActionView},
		{authz.RoleUser, authz.ResourcePost, authz.ActionCreate},
		{authz.RoleUser, authz.ResourcePost, authz.ActionPublish},
		{authz.RoleUser, authz.ResourceMenu, authz.ActionUpdate},
		{authz.RoleEditor, authz.ResourceTicket, authz.ActionView},
		{authz.RoleEditor, authz.ResourceTicket, authz.ActionCreate},
		{authz.RoleEditor, authz.ResourcePost, authz.ActionPublish},
		{authz.RoleEditor, authz.ResourceUser, authz.ActionImpersonate},
		{authz.RoleManager, authz.ResourceUser, authz.ActionCreate},
		{authz.RoleManager, authz.ResourceUser, authz.ActionImpersonate},
		{authz.RoleManager, authz.ResourcePost, authz.ActionDelete},
		// Unknown tuples fail closed as well.
		{authz.RoleUser, authz.Resource("report"), authz.ActionView},
		{authz.RoleManager, authz.ResourcePost, authz.Action("archive")},
		{authz.Role("GUEST"), authz.ResourcePost, authz.ActionView},
	}
	for _, tc := range cases {
		p := authz.Principal{UserID: 1, Role: tc.role}
		if err := eval.Authorize(p, tc.resource, tc.action); !errors.Is(err, authz.ErrDenied) {
			t.Errorf("Authorize(%s, %s, %s) = %v, want ErrDenied", tc.role, tc.resource, tc.action, err)
		}
	}
}

func TestAdminHoldsEveryGrant(t *testing.T) {
	eval := newEvaluator()
	admin := authz.Principal{UserID: 1, Role: authz.RoleAdmin}

	for _, tc := range []struct {
		resource authz.Resource
		action   authz.Action
	}{
		{authz.ResourcePost, authz.ActionDelete},
		{authz.ResourceTicket, authz.ActionAssign},
		{authz.ResourceUser, authz.ActionImpersonate},
		{authz.ResourceSession, authz.ActionDelete},
		{authz.ResourceMenu, authz.ActionUpdate},
	} {
		if err := eval.Authorize(admin, tc.resource, tc.action); err != nil {
			t.Errorf("admin denied (%s, %s): %v", tc.resource, tc.action, err)
		}
	}
}

func TestOwnershipGatedUpdate(t *testing.T) {
	eval := newEvaluator()
	editor := authz.Principal{UserID: 10, Role: authz.RoleEditor}

	if err := eval.Authorize(editor, authz.ResourcePost, authz.ActionUpdate, authz.WithOwner(10)); err != nil {
		t.Fatalf("editor must update own post: %v", err)
	}
	if err := eval.Authorize(editor, authz.ResourcePost, authz.ActionUpdate, authz.WithOwner(11)); !errors.Is(err, authz.ErrDenied) {
		t.Fatalf("editor updating someone else's post must deny, got %v", err)
	}
	// Owner unknown fails closed.
	if err := eval.Authorize(editor, authz.ResourcePost, authz.ActionUpdate); !errors.Is(err, authz.ErrDenied) {
		t.Fatalf("missing ownership context must deny, got %v", err)
	}
}

func TestAdminBypassesOwnership(t *testing.T) {
	eval := newEvaluator()
	admin := authz.Principal{UserID: 1, Role: authz.RoleAdmin}

	if err := eval.Authorize(admin, authz.ResourcePost, authz.ActionUpdate, authz.WithOwner(99)); err != nil {
		t.Fatalf("admin bypasses ownership: %v", err)
	}
	if err := eval.Authorize(admin, authz.ResourcePost, authz.ActionUpdate); err != nil {
		t.Fatalf("admin needs no ownership context: %v", err)
	}
}

func TestUserTicketCapabilities(t *testing.T) {
	eval := newEvaluator()
	user := authz.Principal{UserID: 4, Role: authz.RoleUser}

	if err := eval.Authorize(user, authz.ResourceTicket, authz.ActionCreate); err != nil {
		t.Fatalf("user must open tickets: %v", err)
	}
	if err := eval.Authorize(user, authz.ResourceTicket, authz.ActionView, authz.WithOwner(4)); err != nil {
		t.Fatalf("user must view own ticket: %v", err)
	}
	if err := eval.Authorize(user, authz.ResourceTicket, authz.ActionView, authz.WithOwner(5)); !errors.Is(err, authz.ErrDenied) {
		t.Fatalf("user viewing another requester's ticket must deny, got %v", err)
	}
	if err := eval.Authorize(user, authz.ResourceTicket, authz.ActionAssign); !errors.Is(err, authz.ErrDenied) {
		t.Fatalf("assignment is not a user capability, got %v", err)
	}
}

func TestManagerTicketCapabilitiesAreUnconditional(t *testing.T) {
	eval := newEvaluator()
	manager := authz.Principal{UserID: 2, Role: authz.RoleManager}

	for _, action := range []authz.Action{authz.ActionView, authz.ActionAssign, authz.ActionClose} {
		if err := eval.Authorize(manager, authz.ResourceTicket, action, authz.WithOwner(77)); err != nil {
			t.Errorf("manager denied ticket %s: %v", action, err)
		}
	}
}

func TestHasGrantIncludesOwnerConditional(t *testing.T) {
	eval := newEvaluator()

	if !eval.HasGrant(authz.RoleEditor, authz.ResourcePost, authz.ActionUpdate) {
		t.Fatal("editor holds an owner-conditional update grant")
	}
	if eval.HasGrant(authz.RoleUser, authz.ResourcePost, authz.ActionUpdate) {
		t.Fatal("user holds no post update grant")
	}
}

func TestParseRole(t *testing.T) {
	if role, err := authz.ParseRole(" editor "); err != nil || role != authz.RoleEditor {
		t.Fatalf("ParseRole = (%q, %v)", role, err)
	}
	if _, err := authz.ParseRole("root"); err == nil {
		t.Fatal("unknown role must not parse")
	}
}
