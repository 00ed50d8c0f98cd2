// Package session serves the browser presentation over a websocket. Each
// connection owns one query controller and one capture workflow; the browser
// only renders pushed state and forwards user events.
package session

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/xenking/food-explorer/internal/capture"
	"github.com/xenking/food-explorer/internal/domain/catalog"
	"github.com/xenking/food-explorer/internal/explorer"
	"github.com/xenking/food-explorer/internal/ordering"
	"github.com/xenking/food-explorer/internal/wire"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4 << 20
	sendBuffer     = 64
)

// Config holds what every session is built from.
type Config struct {
	Catalog  catalog.Client
	Ordering *ordering.Engine
	Decoder  capture.Decoder
	// Capture is copied for every session; its callbacks are replaced.
	Capture capture.Options
	// CheckOrigin defaults to the same-host check.
	CheckOrigin   func(r *http.Request) bool
	MeterProvider metric.MeterProvider
	Logger        *zap.Logger
}

// Server upgrades requests to sessions.
type Server struct {
	cfg      Config
	upgrader websocket.Upgrader
	lg       *zap.Logger
	live     metric.Int64UpDownCounter

	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
	closed   bool
	wg       sync.WaitGroup
}

// NewServer returns a Server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Catalog == nil || cfg.Decoder == nil {
		return nil, errors.New("catalog and decoder are required")
	}
	if cfg.Ordering == nil {
		cfg.Ordering = ordering.Default()
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = noop.NewMeterProvider()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	cfg.Capture.MeterProvider = cfg.MeterProvider

	live, err := cfg.MeterProvider.Meter("explorer/session").Int64UpDownCounter("explorer.sessions",
		metric.WithDescription("Open presentation sessions"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "sessions counter")
	}

	return &Server{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     cfg.CheckOrigin,
		},
		lg:       cfg.Logger,
		live:     live,
		sessions: make(map[uuid.UUID]*Session),
	}, nil
}

// ServeHTTP upgrades the connection and runs the session until it ends.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the request.
		s.lg.Debug("Websocket upgrade failed", zap.Error(err))
		return
	}

	sess, err := s.newSession(conn)
	if err != nil {
		s.lg.Error("Create session", zap.Error(err))
		_ = conn.Close()
		return
	}
	if !s.register(sess) {
		_ = conn.Close()
		return
	}
	defer s.unregister(sess)

	ctx := context.Background()
	s.live.Add(ctx, 1)
	defer s.live.Add(ctx, -1)

	sess.run()
}

func (s *Server) register(sess *Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.sessions[sess.id] = sess
	s.wg.Add(1)
	return true
}

func (s *Server) unregister(sess *Session) {
	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()
	s.wg.Done()
}

// Len returns the number of open sessions.
func (s *Server) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Shutdown closes every session and waits for them to finish or ctx to end.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	for _, sess := range s.sessions {
		sess.close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Session is one connected presentation.
type Session struct {
	id   uuid.UUID
	conn *websocket.Conn
	lg   *zap.Logger

	ctrl *explorer.Controller
	wf   *capture.Workflow
	cam  *RemoteCamera

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (s *Server) newSession(conn *websocket.Conn) (*Session, error) {
	id := uuid.New()
	sess := &Session{
		id:   id,
		conn: conn,
		lg:   s.lg.With(zap.Stringer("session_id", id)),
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	sess.cam = NewRemoteCamera(sess.enqueue)

	sess.ctrl = explorer.New(s.cfg.Catalog, explorer.Options{
		Ordering: s.cfg.Ordering,
		Logger:   sess.lg.Named("explorer"),
		OnChange: func(st explorer.State) {
			sess.enqueue(encodeMessage(msgState, func(e *jx.Encoder) { wire.State(e, st) }))
		},
	})

	opts := s.cfg.Capture
	opts.Logger = sess.lg.Named("capture")
	opts.OnChange = func(snap capture.Snapshot) {
		sess.enqueue(encodeMessage(msgCapture, func(e *jx.Encoder) { wire.Capture(e, snap) }))
	}
	opts.OnResult = func(code string) {
		sess.ctrl.Dispatch(explorer.BarcodeSubmitted{Code: code})
	}
	wf, err := capture.NewWorkflow(sess.cam, s.cfg.Decoder, opts)
	if err != nil {
		return nil, errors.Wrap(err, "capture workflow")
	}
	sess.wf = wf

	return sess, nil
}

func (s *Session) run() {
	s.lg.Info("Session started")
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop()
	}()

	s.ctrl.Start()
	s.readLoop()

	s.close()
	s.wf.Close()
	s.ctrl.Close()
	<-writerDone
	s.lg.Info("Session ended")
}

// close ends the session. The writer sends a close frame and closes the
// connection, which ends the reader.
func (s *Session) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// enqueue hands msg to the writer. A client that cannot keep up is
// disconnected rather than buffered without bound.
func (s *Session) enqueue(msg []byte) {
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.send <- msg:
	case <-s.done:
	default:
		s.lg.Warn("Client too slow, closing session")
		s.close()
	}
}

func (s *Session) sendError(message string) {
	s.enqueue(encodeMessage(msgError, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("message")
		e.Str(message)
		e.ObjEnd()
	}))
}

func (s *Session) writeLoop() {
	defer func() { _ = s.conn.Close() }()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.lg.Debug("Write failed", zap.Error(err))
				s.close()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.close()
				return
			}
		case <-s.done:
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait),
			)
			return
		}
	}
}

func (s *Session) readLoop() {
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.lg.Warn("Read failed", zap.Error(err))
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))

		msg, err := decodeInbound(data)
		if err != nil {
			s.lg.Debug("Bad message", zap.Error(err))
			s.sendError("Invalid message format")
			continue
		}
		s.handle(msg)
	}
}

func (s *Session) handle(msg inbound) {
	switch msg.Type {
	case msgTextChanged:
		s.ctrl.Dispatch(explorer.TextChanged{Text: msg.get("text")})
	case msgCategoryChanged:
		s.ctrl.Dispatch(explorer.CategoryChanged{Category: msg.get("category")})
	case msgSortFieldChanged:
		f, err := catalog.ParseSortField(msg.get("field"))
		if err != nil {
			s.sendError("Unknown sort field")
			return
		}
		s.ctrl.Dispatch(explorer.SortFieldChanged{Field: f})
	case msgSortDirectionToggled:
		s.ctrl.Dispatch(explorer.SortDirectionToggled{})
	case msgPageAdvanced:
		s.ctrl.Dispatch(explorer.PageAdvanced{})
	case msgBarcodeSubmitted:
		s.ctrl.Dispatch(explorer.BarcodeSubmitted{Code: msg.get("code")})
	case msgProductOpened:
		s.ctrl.Dispatch(explorer.ProductOpened{Code: msg.get("code")})
	case msgBackToList:
		s.ctrl.Dispatch(explorer.BackToList{})
	case msgFacetSearch:
		facets := catalog.FilterFacets(s.ctrl.State().Facets, msg.get("term"))
		s.enqueue(encodeMessage(msgFacets, func(e *jx.Encoder) { wire.Facets(e, facets) }))
	case msgScanStart:
		if err := s.wf.Start(); err != nil {
			s.sendError(scanError(err))
		}
	case msgScanCapture:
		if err := s.wf.Capture(); err != nil {
			s.sendError(scanError(err))
		}
	case msgScanCancel:
		s.wf.Cancel()
	case msgCameraGranted:
		s.cam.Granted()
	case msgCameraDenied:
		s.cam.Denied(msg.get("reason"))
	case msgCameraFrame:
		frame, err := decodeFrame(msg.get("image"))
		if err != nil {
			s.sendError("Invalid camera frame")
			return
		}
		s.cam.PushFrame(frame)
	default:
		s.sendError("Unknown message type")
	}
}

func scanError(err error) string {
	switch {
	case errors.Is(err, capture.ErrBusy):
		return "A scan is already in progress."
	case errors.Is(err, capture.ErrNotStreaming):
		return "The camera is not ready yet."
	default:
		return "Scanning is unavailable."
	}
}
