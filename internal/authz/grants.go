package authz

// grant describes a single allowed (role, resource, action) tuple. OwnerOnly
// grants additionally require the caller to own the target resource.
type grant struct {
	ownerOnly bool
}

type grantKey struct {
	role     Role
	resource Resource
	action   Action
}

// Table is the immutable role capability table. Any tuple absent from the
// table is denied. It is built once at process start and is safe for
// unsynchronized concurrent reads.
type Table struct {
	grants map[grantKey]grant
}

type tableBuilder struct {
	grants map[grantKey]grant
}

func (b *tableBuilder) allow(role Role, resource Resource, actions ...Action) {
	for _, action := range actions {
		b.grants[grantKey{role, resource, action}] = grant{}
	}
}

func (b *tableBuilder) allowOwn(role Role, resource Resource, actions ...Action) {
	for _, action := range actions {
		b.grants[grantKey{role, resource, action}] = grant{ownerOnly: true}
	}
}

// resourceActions enumerates every action defined per resource. ADMIN is
// granted the full set.
var resourceActions = map[Resource][]Action{
	ResourcePost:    {ActionView, ActionCreate, ActionUpdate, ActionDelete, ActionPublish},
	ResourcePage:    {ActionView, ActionCreate, ActionUpdate, ActionDelete, ActionPublish},
	ResourceEvent:   {ActionView, ActionCreate, ActionUpdate, ActionDelete, ActionPublish},
	ResourceMenu:    {ActionView, ActionUpdate},
	ResourceTicket:  {ActionView, ActionCreate, ActionUpdate, ActionClose, ActionAssign},
	ResourceUser:    {ActionView, ActionCreate, ActionUpdate, ActionDelete, ActionImpersonate},
	ResourceSession: {ActionView, ActionDelete},
}

// DefaultTable builds the static grant table.
func DefaultTable() *Table {
	b := &tableBuilder{grants: make(map[grantKey]grant)}

	for resource, actions := range resourceActions {
		b.allow(RoleAdmin, resource, actions...)
	}

	// Managers run content publication and the helpdesk but do not touch
	// user administration beyond read access.
	b.allow(RoleManager, ResourcePost, ActionView, ActionPublish)
	b.allow(RoleManager, ResourcePage, ActionView, ActionPublish)
	b.allow(RoleManager, ResourceEvent, ActionView, ActionPublish)
	b.allow(RoleManager, ResourceMenu, ActionView, ActionUpdate)
	b.allow(RoleManager, ResourceTicket, ActionView, ActionCreate, ActionUpdate, ActionClose, ActionAssign)
	b.allow(RoleManager, ResourceUser, ActionView)

	// Editors author content. Mutations are restricted to their own
	// records; publication stays with managers.
	b.allow(RoleEditor, ResourcePost, ActionView, ActionCreate)
	b.allowOwn(RoleEditor, ResourcePost, ActionUpdate, ActionDelete)
	b.allow(RoleEditor, ResourcePage, ActionView, ActionCreate)
	b.allowOwn(RoleEditor, ResourcePage, ActionUpdate, ActionDelete)
	b.allow(RoleEditor, ResourceEvent, ActionView, ActionCreate)
	b.allowOwn(RoleEditor, ResourceEvent, ActionUpdate, ActionDelete)
	b.allow(RoleEditor, ResourceMenu, ActionView)

	// Regular users read published content and raise their own tickets.
	b.allow(RoleUser, ResourcePost, ActionView)
	b.allow(RoleUser, ResourcePage, ActionView)
	b.allow(RoleUser, ResourceEvent, ActionView)
	b.allow(RoleUser, ResourceTicket, ActionCreate)
	b.allowOwn(RoleUser, ResourceTicket, ActionView, ActionUpdate, ActionClose)

	return &Table{grants: b.grants}
}

func (t *Table) lookup(role Role, resource Resource, action Action) (grant, bool) {
	g, ok := t.grants[grantKey{role, resource, action}]
	return g, ok
}
