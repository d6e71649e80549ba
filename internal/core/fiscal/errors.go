package fiscal

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned by repositories when the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAuthorityUnavailable is the generic caller-facing text for transport and protocol failures.
	ErrAuthorityUnavailable = errors.New("el servicio de AFIP no está disponible, intente nuevamente más tarde")
)

// ValidationError is raised locally, before any authority call, so no number is consumed.
type ValidationError struct {
	Reasons []string
}

// NewValidationError builds a ValidationError from formatted reasons.
func NewValidationError(reasons ...string) *ValidationError {
	return &ValidationError{Reasons: reasons}
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Reasons, "; ")
}

// TransportError covers network, DNS and timeout failures. It is retryable, but a
// retried authorization must re-derive the next number.
type TransportError struct {
	Op       string
	Endpoint string
	Timeout  bool
	Err      error
}

func (e *TransportError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s: timeout calling %s: %v", e.Op, e.Endpoint, e.Err)
	}
	return fmt.Sprintf("%s: calling %s: %v", e.Op, e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolFault is a malformed envelope or an authority fault element. The raw payload
// is kept for the logs; faults are never retried automatically.
type ProtocolFault struct {
	Op         string
	Code       string
	Message    string
	StatusCode int
	Payload    []byte
}

func (e *ProtocolFault) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: authority fault [%s] %s", e.Op, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// RejectionError wraps a well-formed result with approved=false so orchestrators can
// abort their transaction while keeping the decoded reasons.
type RejectionError struct {
	Result *AuthorizationResult
}

func (e *RejectionError) Error() string {
	return "authorization rejected: " + strings.Join(e.Reasons(), "; ")
}

// Reasons lists errors first, then observations, each rendered as "[code] message".
func (e *RejectionError) Reasons() []string {
	if e.Result == nil {
		return nil
	}
	return e.Result.Reasons()
}

// ConsistencyError means the authority approved a document but local persistence
// failed. The CAE is real; the remedy is reconciliation, never a retry.
type ConsistencyError struct {
	Kind       DocumentKind
	SalesPoint int
	Number     int64
	CAE        string
	Err        error
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("document %s %05d-%08d approved with CAE %s but not persisted: %v",
		e.Kind, e.SalesPoint, e.Number, e.CAE, e.Err)
}

func (e *ConsistencyError) Unwrap() error { return e.Err }

// IsRetryable reports whether the caller may retry the whole operation.
func IsRetryable(err error) bool {
	var transport *TransportError
	return errors.As(err, &transport)
}

// UserMessage renders err for an end user. Validation and rejection errors carry
// itemized reasons; transport and protocol failures collapse into a generic message.
func UserMessage(err error) (string, []string) {
	if err == nil {
		return "", nil
	}

	var (
		validation  *ValidationError
		rejection   *RejectionError
		consistency *ConsistencyError
		transport   *TransportError
		fault       *ProtocolFault
	)

	switch {
	case errors.As(err, &validation):
		return "el comprobante tiene datos inválidos", validation.Reasons
	case errors.As(err, &rejection):
		return "AFIP rechazó el comprobante", rejection.Reasons()
	case errors.As(err, &consistency):
		return fmt.Sprintf("el comprobante fue autorizado (CAE %s) pero no pudo registrarse; se requiere conciliación", consistency.CAE), nil
	case errors.As(err, &transport), errors.As(err, &fault):
		return ErrAuthorityUnavailable.Error(), nil
	default:
		return err.Error(), nil
	}
}
