package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/wonny/tally/internal/contracts"
)

// Identity headers set by the trusted gateway in front of the API
const (
	HeaderUser        = "X-Tally-User"
	HeaderRole        = "X-Tally-Role"
	HeaderDepartments = "X-Tally-Departments"
	HeaderCells       = "X-Tally-Cells"
)

type identityKey struct{}

// WithIdentity stores id in ctx
func WithIdentity(ctx context.Context, id contracts.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the identity stored in ctx, or the public identity
func IdentityFrom(ctx context.Context) contracts.Identity {
	if id, ok := ctx.Value(identityKey{}).(contracts.Identity); ok {
		return id
	}
	return contracts.PublicIdentity()
}

// ParseIdentity reads the gateway headers. A request without a role header
// is unauthenticated.
func ParseIdentity(r *http.Request) (contracts.Identity, error) {
	rawRole := r.Header.Get(HeaderRole)
	if strings.TrimSpace(rawRole) == "" {
		return contracts.Identity{}, fmt.Errorf("%w: missing %s header", contracts.ErrUnauthenticated, HeaderRole)
	}

	role, err := contracts.ParseRole(rawRole)
	if err != nil {
		return contracts.Identity{}, fmt.Errorf("%w: %v", contracts.ErrUnauthenticated, err)
	}

	return contracts.Identity{
		UserID:      strings.TrimSpace(r.Header.Get(HeaderUser)),
		Role:        role,
		Departments: splitList(r.Header.Get(HeaderDepartments)),
		Cells:       splitList(r.Header.Get(HeaderCells)),
	}, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
