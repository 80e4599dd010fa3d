package service

// Error codes carried by ServiceError. The API maps each to an HTTP status.
const (
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeNotFound        = "NOT_FOUND"
	CodeConflict        = "CONFLICT"
	CodeInternal        = "INTERNAL"
)

// ServiceError is an operation failure the caller can act on.
type ServiceError struct {
	Code    string
	Message string
	Err     error
}

func (e *ServiceError) Error() string { return e.Message }
func (e *ServiceError) Unwrap() error { return e.Err }

func invalidArg(msg string) *ServiceError { return &ServiceError{Code: CodeInvalidArgument, Message: msg} }
func notFound(msg string) *ServiceError   { return &ServiceError{Code: CodeNotFound, Message: msg} }
func conflict(msg string) *ServiceError   { return &ServiceError{Code: CodeConflict, Message: msg} }

// internal keeps err for logs; only msg reaches the client.
func internal(msg string, err error) *ServiceError {
	return &ServiceError{Code: CodeInternal, Message: msg, Err: err}
}
