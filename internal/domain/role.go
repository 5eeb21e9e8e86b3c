package domain

import "context"

// Operator roles carried in the JWT "role" claim. A gateway token belongs to
// another instance of this service running in front of the store; it acts for
// the operator named in the X-Operator-* headers.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleGateway  = "gateway"
)

// Headers a gateway sends to name the operator behind a request. The name is
// query-escaped.
const (
	HeaderOperatorID   = "X-Operator-Id"
	HeaderOperatorName = "X-Operator-Name"
	HeaderOperatorRole = "X-Operator-Role"
)

// Actor is the authenticated operator performing an action.
type Actor struct {
	UserID string
	Name   string
	Role   string
}

// Label prefers the display name and falls back to the id.
func (a Actor) Label() string {
	if a.Name != "" {
		return a.Name
	}
	return a.UserID
}

type actorKey struct{}

// WithActor attaches the operator a store call is made for.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFrom returns the operator set by WithActor.
func ActorFrom(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(Actor)
	return a, ok && a.UserID != ""
}
