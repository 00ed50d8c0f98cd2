// Package capture drives a single barcode scan: acquire the camera, grab one
// frame, decode it off the caller's goroutine, and release the camera on
// every exit path.
package capture

import (
	"context"
	"image"

	"github.com/go-faster/errors"
)

var (
	// ErrBusy is returned when a scan is started while another is active.
	ErrBusy = errors.New("capture already in progress")
	// ErrNotStreaming is returned by Capture outside the streaming state.
	ErrNotStreaming = errors.New("camera is not streaming")
	// ErrPermissionDenied means the camera may not be used.
	ErrPermissionDenied = errors.New("camera permission denied")
	// ErrNoBarcode means the frame decoded without finding a barcode.
	ErrNoBarcode = errors.New("no barcode found")
	// ErrDecodeTimeout means the decoder did not answer in time.
	ErrDecodeTimeout = errors.New("decode timed out")
	// ErrDecodeCrashed means the decoder panicked.
	ErrDecodeCrashed = errors.New("decoder crashed")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("capture closed")
)

// Facing is the preferred camera direction.
type Facing string

const (
	// FacingRear is the camera pointing away from the user.
	FacingRear  Facing = "environment"
	FacingFront Facing = "user"
)

// Camera grants access to a video stream.
type Camera interface {
	// Open blocks until the stream is available, access is refused
	// (ErrPermissionDenied) or ctx is done.
	Open(ctx context.Context, facing Facing) (Stream, error)
}

// Stream is an open camera. Stop releases it and must be safe to call more
// than once.
type Stream interface {
	Frame(ctx context.Context) (image.Image, error)
	Stop() error
}

// Decoder extracts barcode text from an encoded image. It returns
// ErrNoBarcode when the image holds none.
type Decoder interface {
	Decode(ctx context.Context, frame []byte) (string, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(ctx context.Context, frame []byte) (string, error)

func (f DecoderFunc) Decode(ctx context.Context, frame []byte) (string, error) {
	return f(ctx, frame)
}

// State of a Workflow.
type State string

const (
	StateIdle       State = "idle"
	StateRequesting State = "requesting"
	StateStreaming  State = "streaming"
	StateCaptured   State = "captured"
	StateDecoding   State = "decoding"
	StateResolved   State = "resolved"
	StateFailed     State = "failed"
	StateCancelled  State = "cancelled"
)

// Active reports whether the camera or decoder may still be in use.
func (s State) Active() bool {
	switch s {
	case StateRequesting, StateStreaming, StateCaptured, StateDecoding:
		return true
	}
	return false
}

// Snapshot is the observable workflow state.
type Snapshot struct {
	Version uint64 `json:"version"`
	State   State  `json:"state"`
	// Code is the decoded text once resolved.
	Code string `json:"code,omitempty"`
	// Message is a user-facing prompt or failure explanation.
	Message string `json:"message,omitempty"`
}

// Message for a failure, suitable for showing the user.
func failureMessage(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "Camera access was denied. Allow camera access to scan barcodes."
	case errors.Is(err, ErrNoBarcode), errors.Is(err, ErrDecodeCrashed):
		return "No barcode detected. Hold the barcode steady in good light and try again."
	case errors.Is(err, ErrDecodeTimeout):
		return "Reading the barcode took too long. Please try again."
	default:
		return "The camera could not be used. Please try again."
	}
}

// outcome labels decode results in metrics.
func outcome(err error) string {
	switch {
	case err == nil:
		return "resolved"
	case errors.Is(err, ErrNoBarcode):
		return "no_barcode"
	case errors.Is(err, ErrDecodeTimeout):
		return "timeout"
	case errors.Is(err, ErrDecodeCrashed):
		return "crashed"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "error"
	}
}
