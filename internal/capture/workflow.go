package capture

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Options configures a Workflow.
type Options struct {
	FrameWidth    int
	FrameHeight   int
	JPEGQuality   int
	DecodeTimeout time.Duration
	// Slots bounds decodes running at once, usually shared by all workflows.
	Slots *semaphore.Weighted
	// OnChange receives every snapshot in order. It must not call back into
	// the Workflow.
	OnChange func(Snapshot)
	// OnResult receives decoded text after the resolved snapshot.
	OnResult      func(code string)
	MeterProvider metric.MeterProvider
	Logger        *zap.Logger
}

func (o *Options) setDefaults() {
	if o.FrameWidth <= 0 {
		o.FrameWidth = DefaultFrameWidth
	}
	if o.FrameHeight <= 0 {
		o.FrameHeight = DefaultFrameHeight
	}
	if o.JPEGQuality <= 0 {
		o.JPEGQuality = DefaultJPEGQuality
	}
	if o.DecodeTimeout == 0 {
		o.DecodeTimeout = 5 * time.Second
	}
	if o.MeterProvider == nil {
		o.MeterProvider = noop.NewMeterProvider()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Workflow is one capture session. At most one scan is active at a time.
type Workflow struct {
	cam  Camera
	dec  Decoder
	opts Options
	lg   *zap.Logger

	decodes metric.Int64Counter

	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	notifyMu sync.Mutex

	mu       sync.Mutex
	snap     Snapshot
	attempt  uint64
	ctx      context.Context
	cancel   context.CancelFunc
	stream   Stream
	grabbing bool
	task     *Task
	closed   bool
}

// NewWorkflow returns an idle Workflow.
func NewWorkflow(cam Camera, dec Decoder, opts Options) (*Workflow, error) {
	opts.setDefaults()

	decodes, err := opts.MeterProvider.Meter("explorer/capture").Int64Counter("explorer.decodes",
		metric.WithDescription("Barcode decode attempts by outcome"),
	)
	if err != nil {
		return nil, err
	}

	base, stop := context.WithCancel(context.Background())
	return &Workflow{
		cam:     cam,
		dec:     dec,
		opts:    opts,
		lg:      opts.Logger,
		decodes: decodes,
		base:    base,
		stop:    stop,
		snap:    Snapshot{State: StateIdle},
	}, nil
}

// Snapshot returns the current state.
func (w *Workflow) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snap
}

// Start requests the camera. It returns at once; progress is reported
// through snapshots.
func (w *Workflow) Start() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	if w.snap.State.Active() {
		w.mu.Unlock()
		return ErrBusy
	}

	w.attempt++
	id := w.attempt
	w.ctx, w.cancel = context.WithCancel(w.base)
	ctx := w.ctx

	w.snap.State = StateRequesting
	w.snap.Code = ""
	w.snap.Message = "Waiting for camera access."
	w.lg.Debug("Requesting camera", zap.Uint64("attempt", id))

	w.wg.Add(1)
	go w.open(ctx, id)
	w.commitLocked()
	return nil
}

func (w *Workflow) open(ctx context.Context, id uint64) {
	defer w.wg.Done()

	stream, err := w.cam.Open(ctx, FacingRear)

	w.mu.Lock()
	if id != w.attempt || w.snap.State != StateRequesting {
		w.mu.Unlock()
		// Access was granted after the scan was abandoned.
		if stream != nil {
			w.stopStream(stream)
		}
		return
	}
	if err != nil {
		w.failLocked(err)
		w.commitLocked()
		return
	}

	w.stream = stream
	w.snap.State = StateStreaming
	w.snap.Message = "Point the camera at a barcode."
	w.commitLocked()
}

// Capture grabs the current frame and decodes it.
func (w *Workflow) Capture() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	if w.snap.State != StateStreaming {
		return ErrNotStreaming
	}
	if w.grabbing {
		return ErrBusy
	}
	w.grabbing = true

	w.wg.Add(1)
	go w.grab(w.ctx, w.attempt, w.stream)
	return nil
}

func (w *Workflow) grab(ctx context.Context, id uint64, stream Stream) {
	defer w.wg.Done()

	img, err := stream.Frame(ctx)
	var frame []byte
	if err == nil {
		frame, err = Render(img, w.opts.FrameWidth, w.opts.FrameHeight, w.opts.JPEGQuality)
	}

	w.mu.Lock()
	if id != w.attempt || w.snap.State != StateStreaming {
		w.mu.Unlock()
		return
	}
	w.grabbing = false
	w.stopStreamLocked()
	if err != nil {
		w.failLocked(err)
		w.commitLocked()
		return
	}
	w.snap.State = StateCaptured
	w.snap.Message = ""
	w.commitLocked()

	w.mu.Lock()
	if id != w.attempt || w.snap.State != StateCaptured {
		w.mu.Unlock()
		return
	}
	task := StartTask(ctx, w.dec, frame, w.opts.Slots, w.opts.DecodeTimeout)
	w.task = task
	w.snap.State = StateDecoding
	w.snap.Message = "Reading barcode."
	w.commitLocked()

	res := task.Wait(ctx)
	w.decodes.Add(context.Background(), 1, metric.WithAttributes(attribute.String("outcome", outcome(res.Err))))

	w.mu.Lock()
	if id != w.attempt || w.snap.State != StateDecoding {
		w.mu.Unlock()
		return
	}
	w.task = nil
	if res.Err != nil {
		w.failLocked(res.Err)
		w.commitLocked()
		return
	}

	w.snap.State = StateResolved
	w.snap.Code = res.Text
	w.snap.Message = ""
	w.lg.Info("Barcode decoded", zap.String("code", res.Text))
	w.commitLocked()

	if w.opts.OnResult != nil {
		w.opts.OnResult(res.Text)
	}
}

// Cancel abandons the active scan. It reports whether anything was active.
func (w *Workflow) Cancel() bool {
	w.mu.Lock()
	if !w.snap.State.Active() {
		w.mu.Unlock()
		return false
	}
	w.abortLocked()
	w.snap.State = StateCancelled
	w.snap.Message = ""
	w.commitLocked()
	return true
}

// Close cancels any active scan and waits for background work. No snapshot
// is published after Close returns.
func (w *Workflow) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	if w.snap.State.Active() {
		w.abortLocked()
		w.snap.State = StateCancelled
	}
	w.mu.Unlock()

	w.stop()
	w.wg.Wait()
}

// abortLocked invalidates the current attempt and releases what it holds.
func (w *Workflow) abortLocked() {
	w.attempt++
	if w.cancel != nil {
		w.cancel()
	}
	if w.task != nil {
		w.task.Cancel()
		w.task = nil
	}
	w.grabbing = false
	w.stopStreamLocked()
}

func (w *Workflow) failLocked(err error) {
	w.lg.Warn("Capture failed", zap.String("state", string(w.snap.State)), zap.Error(err))
	w.stopStreamLocked()
	w.snap.State = StateFailed
	w.snap.Code = ""
	w.snap.Message = failureMessage(err)
}

func (w *Workflow) stopStreamLocked() {
	if w.stream == nil {
		return
	}
	w.stopStream(w.stream)
	w.stream = nil
}

func (w *Workflow) stopStream(s Stream) {
	if err := s.Stop(); err != nil {
		w.lg.Warn("Stop camera", zap.Error(err))
	}
}

// commitLocked publishes the snapshot and releases mu.
func (w *Workflow) commitLocked() {
	w.snap.Version++
	snap := w.snap

	w.notifyMu.Lock()
	w.mu.Unlock()
	defer w.notifyMu.Unlock()

	if w.opts.OnChange != nil {
		w.opts.OnChange(snap)
	}
}
