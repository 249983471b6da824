package catalog

import "fmt"

// ErrorKind classifies a failed catalog call.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindInvalidURL
	KindNoData
	KindDecoding
	KindNetworkFailure
	KindServer
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidURL:
		return "invalid_url"
	case KindNoData:
		return "no_data"
	case KindDecoding:
		return "decoding_error"
	case KindNetworkFailure:
		return "network_failure"
	case KindServer:
		return "server_error"
	default:
		return "unknown"
	}
}

// NetworkError is the only error type returned by Client.
// StatusCode is set for KindServer; Err carries the underlying cause when
// there is one.
type NetworkError struct {
	Kind       ErrorKind
	StatusCode int
	Err        error
}

// Sentinels for errors.Is. ErrServer matches any status code.
var (
	ErrInvalidURL     = &NetworkError{Kind: KindInvalidURL}
	ErrNoData         = &NetworkError{Kind: KindNoData}
	ErrDecoding       = &NetworkError{Kind: KindDecoding}
	ErrNetworkFailure = &NetworkError{Kind: KindNetworkFailure}
	ErrServer         = &NetworkError{Kind: KindServer}
	ErrUnknown        = &NetworkError{Kind: KindUnknown}
)

func (e *NetworkError) Error() string {
	switch e.Kind {
	case KindInvalidURL:
		return "Invalid URL"
	case KindNoData:
		return "No data found"
	case KindDecoding:
		return "Failed to decode data"
	case KindServer:
		return fmt.Sprintf("Server error %d", e.StatusCode)
	case KindNetworkFailure:
		if e.Err != nil {
			return "Network error: " + e.Err.Error()
		}
		return "Network error"
	default:
		return "Something went wrong"
	}
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Is matches on kind, and on status code when the target has one.
func (e *NetworkError) Is(target error) bool {
	t, ok := target.(*NetworkError)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.StatusCode == 0 || t.StatusCode == e.StatusCode
}

func serverError(code int) *NetworkError {
	return &NetworkError{Kind: KindServer, StatusCode: code}
}

func networkFailure(err error) *NetworkError {
	return &NetworkError{Kind: KindNetworkFailure, Err: err}
}

func decodingError(err error) *NetworkError {
	return &NetworkError{Kind: KindDecoding, Err: err}
}

func invalidURL(err error) *NetworkError {
	return &NetworkError{Kind: KindInvalidURL, Err: err}
}
