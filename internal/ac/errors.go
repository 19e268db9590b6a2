package ac

import "errors"

// errNoSigningKey indicates Initialize was never called (or failed) on the
// key manager before a token issuance was attempted.
var errNoSigningKey = errors.New("ac: no active signing key loaded")
