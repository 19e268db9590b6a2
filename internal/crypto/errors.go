package crypto

import "errors"

// Kind enumerates the classes of crypto failure. Values are bounded so they
// are safe to use as metric label values.
type Kind string

const (
	KindBadMasterKey  Kind = "bad_master_key"
	KindBadNonce      Kind = "bad_nonce"
	KindBadTag        Kind = "bad_tag"
	KindAEADReject    Kind = "aead_reject"
	KindBadCost       Kind = "bad_cost"
	KindBadAlgorithm  Kind = "bad_algorithm"
	KindBadKid        Kind = "missing_kid"
	KindTokenTooLarge Kind = "token_too_large"
	KindExpired       Kind = "expired"
	KindNotYetValid   Kind = "not_yet_valid"
	KindAudienceMismatch Kind = "audience_mismatch"
	KindIssuerMismatch   Kind = "issuer_mismatch"
	KindLifetimeExceeded Kind = "lifetime_exceeded"
	KindKeyNotFound      Kind = "key_not_found"
)

// Error is the CryptoError taxonomy member from spec §7. The underlying
// cause is preserved for logs via Unwrap; callers at the HTTP boundary must
// sanitize it to a generic message rather than return Error() to clients.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, err error) error {
	return &Error{Kind: kind, Err: err}
}

// IsKind reports whether err is a crypto Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind == kind
	}
	return false
}
