package session

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	_ "image/jpeg" // frame formats browsers produce
	_ "image/png"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/food-explorer/internal/capture"
)

var _ capture.Camera = (*RemoteCamera)(nil)

var errStreamStopped = errors.New("camera stream stopped")

// RemoteCamera is the browser's camera, driven over the session socket. Open
// asks the browser for access and waits for the answer; frames are whatever
// the browser sent last.
type RemoteCamera struct {
	send func(msg []byte)

	mu      sync.Mutex
	pending chan error
	frame   []byte
	ready   chan struct{}
	stream  *remoteStream
}

// NewRemoteCamera returns a camera that talks to the browser through send.
func NewRemoteCamera(send func(msg []byte)) *RemoteCamera {
	return &RemoteCamera{
		send:  send,
		ready: make(chan struct{}),
	}
}

// Open implements capture.Camera.
func (c *RemoteCamera) Open(ctx context.Context, facing capture.Facing) (capture.Stream, error) {
	c.mu.Lock()
	if c.pending != nil {
		c.mu.Unlock()
		return nil, capture.ErrBusy
	}
	reply := make(chan error, 1)
	c.pending = reply
	c.frame = nil
	c.mu.Unlock()

	c.send(encodeMessage(msgCameraRequest, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("facing")
		e.Str(string(facing))
		e.ObjEnd()
	}))

	select {
	case err := <-reply:
		if err != nil {
			return nil, err
		}
		s := &remoteStream{cam: c}
		c.mu.Lock()
		c.stream = s
		c.mu.Unlock()
		return s, nil
	case <-ctx.Done():
		c.mu.Lock()
		if c.pending == reply {
			c.pending = nil
		}
		c.mu.Unlock()
		// The grant may have landed while giving up.
		select {
		case err := <-reply:
			if err == nil {
				c.sendStop()
			}
		default:
		}
		return nil, ctx.Err()
	}
}

// Granted records that the browser opened its camera.
func (c *RemoteCamera) Granted() {
	reply := c.takePending()
	if reply == nil {
		// Nobody is waiting any more; release the browser's camera.
		c.sendStop()
		return
	}
	reply <- nil
}

// Denied records that the browser could not open its camera.
func (c *RemoteCamera) Denied(reason string) {
	reply := c.takePending()
	if reply == nil {
		return
	}
	err := capture.ErrPermissionDenied
	if reason != "" {
		err = errors.Wrap(capture.ErrPermissionDenied, reason)
	}
	reply <- err
}

func (c *RemoteCamera) takePending() chan error {
	c.mu.Lock()
	defer c.mu.Unlock()
	reply := c.pending
	c.pending = nil
	return reply
}

// PushFrame stores an encoded frame sent by the browser. Frames arriving
// while no stream is open are dropped.
func (c *RemoteCamera) PushFrame(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil {
		return
	}
	c.frame = data
	close(c.ready)
	c.ready = make(chan struct{})
}

func (c *RemoteCamera) sendStop() {
	c.send(encodeMessage(msgCameraStop, nil))
}

type remoteStream struct {
	cam     *RemoteCamera
	once    sync.Once
	stopped atomic.Bool
}

// Frame returns the latest frame, waiting for the first one if needed.
func (s *remoteStream) Frame(ctx context.Context) (image.Image, error) {
	for {
		if s.stopped.Load() {
			return nil, errStreamStopped
		}

		s.cam.mu.Lock()
		data, ready := s.cam.frame, s.cam.ready
		s.cam.mu.Unlock()

		if data != nil {
			img, _, err := image.Decode(bytes.NewReader(data))
			if err != nil {
				return nil, errors.Wrap(err, "decode frame")
			}
			return img, nil
		}

		select {
		case <-ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Stop tells the browser to release the camera, once.
func (s *remoteStream) Stop() error {
	s.once.Do(func() {
		s.stopped.Store(true)

		c := s.cam
		c.mu.Lock()
		if c.stream == s {
			c.stream = nil
			c.frame = nil
			close(c.ready)
			c.ready = make(chan struct{})
		}
		c.mu.Unlock()

		c.sendStop()
	})
	return nil
}

// decodeFrame accepts raw base64 or a data URL.
func decodeFrame(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		i := strings.Index(s, ",")
		if i < 0 {
			return nil, errors.New("malformed data URL")
		}
		s = s[i+1:]
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.Wrap(err, "decode base64")
	}
	return b, nil
}
