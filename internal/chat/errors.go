package chat

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a ServiceError so transport layers can map failures
// to responses without matching on codes.
type ErrorKind string

const (
	// KindValidation marks malformed or incomplete input.
	KindValidation ErrorKind = "validation"
	// KindAuthorization marks a caller acting outside their membership.
	KindAuthorization ErrorKind = "authorization"
	// KindNotFound marks a missing entity.
	KindNotFound ErrorKind = "not_found"
	// KindIO marks an unexpected store failure.
	KindIO ErrorKind = "io"
)

// ServiceError carries an operation-scoped code alongside its kind.
type ServiceError struct {
	kind ErrorKind
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the operation.reason identifier for the failure.
func (e *ServiceError) Code() string {
	return e.code
}

// Kind returns the failure classification.
func (e *ServiceError) Kind() ErrorKind {
	return e.kind
}

func newServiceError(kind ErrorKind, operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{kind: kind, code: code, err: cause}
}

func kindOf(err error) (ErrorKind, bool) {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.kind, true
	}
	return "", false
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	kind, ok := kindOf(err)
	return ok && kind == KindValidation
}

// IsAuthorization reports whether err is an authorization failure.
func IsAuthorization(err error) bool {
	kind, ok := kindOf(err)
	return ok && kind == KindAuthorization
}

// IsNotFound reports whether err is a missing-entity failure.
func IsNotFound(err error) bool {
	kind, ok := kindOf(err)
	return ok && kind == KindNotFound
}
