package port

import "github.com/avask/ringline/internal/core/domain"

// TokenVerifier turns a bearer token into a verified identity.
type TokenVerifier interface {
	Verify(token string) (domain.Identity, error)
}

// AdmissionTokens mints signed credentials admitting a user to a call's
// room on the external media relay.
type AdmissionTokens interface {
	Mint(key domain.CallKey, user domain.Identity) (string, error)
	ServerURL() string
}
