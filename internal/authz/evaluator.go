package authz

// Evaluator decides allow/deny for (principal, resource, action) tuples. It
// is deterministic, performs no I/O and holds only the immutable grant table.
type Evaluator struct {
	table *Table
}

// NewEvaluator constructs an Evaluator over the given table.
func NewEvaluator(table *Table) *Evaluator {
	return &Evaluator{table: table}
}

// Option refines an authorization check.
type Option func(*checkOptions)

type checkOptions struct {
	ownerID  int64
	hasOwner bool
}

// WithOwner supplies the owner of the target resource for ownership-gated
// grants.
func WithOwner(ownerID int64) Option {
	return func(o *checkOptions) {
		o.ownerID = ownerID
		o.hasOwner = true
	}
}

// Authorize returns nil when the principal may perform action on resource,
// ErrDenied otherwise. Ownership-gated grants require WithOwner; when the
// owner is unknown the check fails closed. ADMIN bypasses ownership checks
// explicitly.
func (e *Evaluator) Authorize(p Principal, resource Resource, action Action, opts ...Option) error {
	g, ok := e.table.lookup(p.Role, resource, action)
	if !ok {
		return ErrDenied
	}
	if !g.ownerOnly || p.Role == RoleAdmin {
		return nil
	}

	var o checkOptions
	for _, opt := range opts {
		opt(&o)
	}
	if !o.hasOwner || o.ownerID != p.UserID {
		return ErrDenied
	}
	return nil
}

// HasGrant reports whether the role holds any grant for the tuple, including
// ownership-conditional ones. Route middleware uses it as a cheap first gate;
// handlers still call Authorize with the owner once the resource is loaded.
func (e *Evaluator) HasGrant(role Role, resource Resource, action Action) bool {
	_, ok := e.table.lookup(role, resource, action)
	return ok
}
