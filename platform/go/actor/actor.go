package actor

import (
	"context"
	"net/http"
	"strings"

	chimw "github.com/go-chi/chi/v5/middleware"
)

type contextKey string

const (
	ctxIdentity contextKey = "REGISTRY_ACTOR"

	// HeaderActor carries the caller identity asserted by the gateway in
	// front of this service.
	HeaderActor = "X-Registry-Actor"
)

// Kind represents who initiated a request.
type Kind string

const (
	KindUser      Kind = "user"
	KindAnonymous Kind = "anonymous"
	KindSystem    Kind = "system"
)

// Identity captures request-scoped caller metadata needed for audit columns.
// Name is empty only when Kind is anonymous; RequestID is optional but
// encouraged.
type Identity struct {
	Kind      Kind
	Name      string
	RequestID string
}

// IntoContext stores the Identity in the provided context.
func IntoContext(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, ctxIdentity, identity)
}

// FromContext extracts the Identity from context, returning false when not present.
func FromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	v := ctx.Value(ctxIdentity)
	if v == nil {
		return Identity{}, false
	}

	identity, ok := v.(Identity)
	return identity, ok
}

// FromContextOrAnonymous returns the Identity stored on the context, or an
// anonymous record when absent.
func FromContextOrAnonymous(ctx context.Context) Identity {
	if identity, ok := FromContext(ctx); ok {
		return identity
	}
	return Anonymous("")
}

// Anonymous builds an Identity for requests with no asserted caller.
func Anonymous(requestID string) Identity {
	return Identity{Kind: KindAnonymous, RequestID: requestID}
}

// System builds an Identity for background/system operations.
func System(name, requestID string) Identity {
	return Identity{Kind: KindSystem, Name: name, RequestID: requestID}
}

// Middleware resolves the caller identity from the actor header and stores it
// on the request context. The service trusts the header because the gateway
// strips it from incoming traffic and re-asserts it after authentication.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := chimw.GetReqID(r.Context())

		identity := Anonymous(requestID)
		if name := strings.TrimSpace(r.Header.Get(HeaderActor)); name != "" {
			identity = Identity{Kind: KindUser, Name: name, RequestID: requestID}
		}

		next.ServeHTTP(w, r.WithContext(IntoContext(r.Context(), identity)))
	})
}
