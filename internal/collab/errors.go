package collab

import "fmt"

// AuthReason enumerates why a connection attempt was rejected.
type AuthReason string

const (
	// AuthReasonMissingCredential marks a handshake without a bearer credential.
	AuthReasonMissingCredential AuthReason = "missing-credential"
	// AuthReasonInvalidCredential marks a malformed, badly signed or expired credential.
	AuthReasonInvalidCredential AuthReason = "invalid-credential"
	// AuthReasonIdentityNotFound marks a credential whose subject resolves to no known user.
	AuthReasonIdentityNotFound AuthReason = "identity-not-found"
)

// AuthError rejects a connection attempt before any room interaction. It is
// fatal to that attempt only.
type AuthError struct {
	Reason AuthReason
	Err    error
}

// Error describes the rejection.
func (e *AuthError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("collab: authentication failed: %s", e.Reason)
	}
	return fmt.Sprintf("collab: authentication failed: %s: %v", e.Reason, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *AuthError) Unwrap() error {
	return e.Err
}
