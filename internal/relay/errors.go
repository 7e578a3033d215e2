package relay

import (
	"errors"
	"fmt"
)

// Client-facing messages.
const (
	MessageUploadFailed = "Upload failed"
	MessageNoImage      = "No image uploaded"
	MessageEmptyImage   = "Uploaded image is empty"
	MessageTooLarge     = "Image too large"
)

// ErrMissingImage is wrapped by the front door when the "image" field is absent.
var ErrMissingImage = errors.New("missing image field")

// ValidationError means the request was rejected before any vendor call.
type ValidationError struct {
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("validation: %s: %v", e.Message, e.Err)
	}
	return "validation: " + e.Message
}

func (e *ValidationError) Unwrap() error { return e.Err }

// UpstreamError means the vendor call failed or returned an unusable payload.
// Message is the vendor's own text and may be empty.
type UpstreamError struct {
	Backend string
	Message string
	Err     error
}

func (e *UpstreamError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "no message"
	}
	if e.Backend != "" {
		return fmt.Sprintf("upstream %s: %s", e.Backend, msg)
	}
	return "upstream: " + msg
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// asUpstream normalises any backend failure into an *UpstreamError.
func asUpstream(backend string, err error) *UpstreamError {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		if ue.Backend == "" {
			ue.Backend = backend
		}
		return ue
	}
	return &UpstreamError{Backend: backend, Message: err.Error(), Err: err}
}
