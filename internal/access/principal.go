package access

import "fmt"

// PrincipalKind tags how a request identity was established.
type PrincipalKind string

// Principal kinds.
const (
	// KindAnonymous marks an unauthenticated request.
	KindAnonymous PrincipalKind = "anonymous"
	// KindUser marks a session-authenticated user.
	KindUser PrincipalKind = "user"
	// KindAPIKey marks an identity derived from an API key.
	KindAPIKey PrincipalKind = "api-key"
)

// Principal is the resolved request identity. Key-derived principals are
// ephemeral: they represent whoever holds the secret and are never persisted.
type Principal struct {
	Kind   PrincipalKind // How the identity was established.
	KeyID  uint64        // Authenticating key ID for KindAPIKey.
	UserID *uint64       // Owning user, when the key or session is bound to one.
}

// Anonymous returns the unauthenticated principal.
func Anonymous() Principal {
	return Principal{Kind: KindAnonymous}
}

// Identifier returns a stable display identifier for the principal.
func (p Principal) Identifier() string {
	switch p.Kind {
	case KindAPIKey:
		return fmt.Sprintf("APIKey-%d", p.KeyID)
	case KindUser:
		if p.UserID != nil {
			return fmt.Sprintf("User-%d", *p.UserID)
		}
		return "User"
	default:
		return "Anonymous"
	}
}

// KeyDerived reports whether the principal was produced by API key
// authentication.
func (p Principal) KeyDerived() bool {
	return p.Kind == KindAPIKey
}

// Permit is the access boundary check: only key-derived principals pass.
func Permit(p Principal) bool {
	return p.KeyDerived()
}
