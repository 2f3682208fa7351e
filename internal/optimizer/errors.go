package optimizer

import "fmt"

// NetworkError wraps a transport failure: DNS, connect, TLS, timeout.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return "optimizer network error: " + e.Err.Error()
}

func (e *NetworkError) Unwrap() error { return e.Err }

// APIError is a response the service produced but that cannot be used:
// a non-2xx status, an undecodable body or an empty completion.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return "optimizer api error: " + e.Message
	}
	return fmt.Sprintf("optimizer api error: status %d: %s", e.StatusCode, e.Message)
}
