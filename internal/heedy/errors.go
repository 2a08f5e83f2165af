package heedy

import (
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrFetch marks transport failures: the request never produced a response.
	ErrFetch = errors.New("fetch failed")
	// ErrResponse marks responses whose body could not be decoded.
	ErrResponse = errors.New("malformed response")
	// ErrBadPath marks cache paths that do not address any server resource.
	ErrBadPath = errors.New("invalid path")
)

// Error names used for client-side ErrorRefs.
const (
	CodeFetch      = "fetch_error"
	CodeResponse   = "response_error"
	CodeBadRequest = "bad_request"
	CodeHTTP       = "http_error"
)

// NewErrorRef builds a client-side ErrorRef with a fresh reference id.
func NewErrorRef(name, description string) *ErrorRef {
	return &ErrorRef{
		Ref:         uuid.NewString(),
		Name:        name,
		Description: description,
	}
}

// AsErrorRef normalizes any failure into an ErrorRef. Server errors keep
// their own body; decode failures become response_error; invalid paths
// become bad_request; everything else is a fetch_error.
func AsErrorRef(err error) *ErrorRef {
	if err == nil {
		return nil
	}
	var ref *ErrorRef
	if errors.As(err, &ref) && ref != nil {
		if ref.Ref == "" {
			dup := *ref
			dup.Ref = uuid.NewString()
			return &dup
		}
		return ref
	}
	switch {
	case errors.Is(err, ErrResponse):
		return NewErrorRef(CodeResponse, err.Error())
	case errors.Is(err, ErrBadPath):
		return NewErrorRef(CodeBadRequest, err.Error())
	default:
		return NewErrorRef(CodeFetch, err.Error())
	}
}
