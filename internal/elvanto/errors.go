package elvanto

import "fmt"

// ErrorKind classifies why a fetch produced no records.
type ErrorKind string

const (
	// KindTransport covers DNS, connection, timeout and body read errors.
	KindTransport ErrorKind = "transport"
	// KindStatus is an HTTP error status without a usable payload.
	KindStatus ErrorKind = "status"
	// KindDecode is a 2xx response that is not a JSON object.
	KindDecode ErrorKind = "decode"
	// KindAPI is an error payload declared by the API itself.
	KindAPI ErrorKind = "api"
)

// FetchError is returned by the fetch methods.
type FetchError struct {
	Resource   string
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *FetchError) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg != "" {
			msg += ": "
		}
		msg += e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("elvanto %s: %s error (HTTP %d): %s", e.Resource, e.Kind, e.StatusCode, msg)
	}
	return fmt.Sprintf("elvanto %s: %s error: %s", e.Resource, e.Kind, msg)
}

func (e *FetchError) Unwrap() error { return e.Err }
