package mdns

import "fmt"

// NetworkError reports a transport-level failure (socket creation, send,
// receive, close). Shaped after the teacher library's own internal error
// type: an Operation label, the underlying error, and a human Details
// string, so callers can both errors.As for the type and read a useful
// message.
type NetworkError struct {
	Operation string
	Err       error
	Details   string
}

func (e *NetworkError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("mdns: %s: %s: %v", e.Operation, e.Details, e.Err)
	}
	return fmt.Sprintf("mdns: %s: %v", e.Operation, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// WireFormatError reports a malformed or unparseable DNS message.
type WireFormatError struct {
	Operation string
	Err       error
}

func (e *WireFormatError) Error() string {
	return fmt.Sprintf("mdns: %s: %v", e.Operation, e.Err)
}

func (e *WireFormatError) Unwrap() error { return e.Err }
