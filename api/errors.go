package api

import "fmt"

// ErrorKind classifies a CoreError for callers that want to branch on
// category without depending on package-internal sentinels (§7).
type ErrorKind string

const (
	KindValidation ErrorKind = "Validation"
	// KindNotInitialized is returned by identity/device-dependent
	// operations (Connect, PairingGenerate) after Clear has wiped the
	// identity keypair and Device Record, until CryptoInit or a successful
	// PairingConsume re-establishes them (§4.8 data.clear(), §7).
	KindNotInitialized     ErrorKind = "NotInitialized"
	KindTransport          ErrorKind = "Transport"
	KindHandshakeRejected  ErrorKind = "HandshakeRejected"
	KindDecryptFailed      ErrorKind = "DecryptFailed"
	KindIntegrityFailed    ErrorKind = "IntegrityFailed"
	KindSessionExpired     ErrorKind = "SessionExpired"
	KindFullResyncRequired ErrorKind = "FullResyncRequired"
	KindRateLimited        ErrorKind = "RateLimited"
	KindQueueBounded       ErrorKind = "QueueBounded"
)

// CoreError wraps an underlying error with the §7 error-kind
// classification, so the External API can expose typed errors without
// leaking every package's own sentinel error variables.
type CoreError struct {
	kind ErrorKind
	err  error
}

func newCoreError(kind ErrorKind, err error) *CoreError {
	return &CoreError{kind: kind, err: err}
}

// Kind reports this error's §7 classification.
func (e *CoreError) Kind() ErrorKind { return e.kind }

func (e *CoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.kind, e.err)
}

func (e *CoreError) Unwrap() error { return e.err }
