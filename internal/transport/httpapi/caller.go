package httpapi

import (
	"context"
	"net/http"
	"strconv"

	"github.com/fieldmate-ai/raggate/internal/domain/caller"
)

// Caller identity headers. With auth enabled they may only repeat or narrow
// the identity configured for the API key; without auth they are set by a
// trusted edge in front of this gateway. Role is required; the rest default
// to the most restrictive scope.
const (
	headerRole       = "X-Caller-Role"
	headerTier       = "X-Caller-Tier"
	headerClearance  = "X-Caller-Clearance"
	headerEmployee   = "X-Caller-Employee"
	headerDepartment = "X-Caller-Department"
	headerRegion     = "X-Caller-Region"
)

type identityCtxKey struct{}

// withKeyIdentity stores the authenticated key's identity in the context.
func withKeyIdentity(ctx context.Context, c caller.Caller) context.Context {
	return context.WithValue(ctx, identityCtxKey{}, c)
}

func keyIdentityFrom(ctx context.Context) (caller.Caller, bool) {
	c, ok := ctx.Value(identityCtxKey{}).(caller.Caller)
	return c, ok
}

// callerFrom resolves the caller identity for a request. An identity placed
// by the auth middleware is authoritative and headers cannot widen it; with
// auth disabled the identity is built from the headers alone.
func callerFrom(r *http.Request) (caller.Caller, bool) {
	if id, ok := keyIdentityFrom(r.Context()); ok {
		return narrowIdentity(id, r)
	}

	clearance := 0
	if raw := r.Header.Get(headerClearance); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return caller.Caller{}, false
		}
		clearance = n
	}

	c, err := caller.New(
		r.Header.Get(headerRole),
		r.Header.Get(headerTier),
		clearance,
		r.Header.Get(headerEmployee),
		r.Header.Get(headerDepartment),
		r.Header.Get(headerRegion),
	)
	if err != nil {
		return caller.Caller{}, false
	}
	return c, true
}

// narrowIdentity applies caller headers on top of the key identity. String
// dimensions must be absent or match the key's exactly; the clearance header
// may lower the level but never raise it. Any widening attempt rejects the
// request outright rather than silently clamping.
func narrowIdentity(id caller.Caller, r *http.Request) (caller.Caller, bool) {
	fixed := []struct {
		header string
		value  string
	}{
		{headerRole, id.Role()},
		{headerTier, id.Tier()},
		{headerEmployee, id.EmployeeID()},
		{headerDepartment, id.Department()},
		{headerRegion, id.Region()},
	}
	for _, f := range fixed {
		if h := r.Header.Get(f.header); h != "" && h != f.value {
			return caller.Caller{}, false
		}
	}

	clearance := id.Clearance()
	if raw := r.Header.Get(headerClearance); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > id.Clearance() {
			return caller.Caller{}, false
		}
		clearance = n
	}
	if clearance == id.Clearance() {
		return id, true
	}

	c, err := caller.New(id.Role(), id.Tier(), clearance, id.EmployeeID(), id.Department(), id.Region())
	if err != nil {
		return caller.Caller{}, false
	}
	return c, true
}
