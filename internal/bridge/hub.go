package bridge

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/stagecast/stagecast/internal/config"
	"github.com/stagecast/stagecast/internal/monitoring"
	"github.com/stagecast/stagecast/internal/step"
)

// Hub hosts the authoritative step stores and serves them to remote
// clients over websockets. One hub carries any number of streams.
type Hub struct {
	log       *zap.Logger
	metrics   *monitoring.Metrics
	staging   config.StagingConfig
	threshold int

	upgrader websocket.Upgrader

	mu     sync.Mutex
	stores map[string]*step.Store
}

// NewHub creates a hub applying cfg's buffering policy to the streams
// it hosts.
func NewHub(cfg *config.Config, log *zap.Logger) *Hub {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		log:       log,
		metrics:   monitoring.Default(),
		staging:   cfg.Staging,
		threshold: cfg.Bridge.CompressThreshold,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1 << 16,
			WriteBufferSize: 1 << 16,
		},
		stores: make(map[string]*step.Store),
	}
}

// Router builds the hub's HTTP surface: the websocket endpoint, a
// health probe, and Prometheus metrics.
func (h *Hub) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/stream", h.handleStream)
	router.GET("/health", h.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return router
}

// Serve runs the hub until the listener fails.
func (h *Hub) Serve(addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	h.log.Info("hub listening", zap.String("addr", addr))
	return server.ListenAndServe()
}

func (h *Hub) handleHealth(c *gin.Context) {
	h.mu.Lock()
	streams := make([]string, 0, len(h.stores))
	for name := range h.stores {
		streams = append(streams, name)
	}
	h.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"streams": streams,
	})
}

// store returns the stream's step store. Writers create it; readers
// only find existing ones.
func (h *Hub) store(name string, create bool) (*step.Store, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty stream name", step.ErrStreamUnavailable)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.stores[name]
	if !ok {
		if !create {
			return nil, fmt.Errorf("%w: %q has no writer", step.ErrStreamUnavailable, name)
		}
		s = step.NewStore(name, step.StoreOptions{
			MaxBufferedSteps: h.staging.MaxBufferedSteps,
			Logger:           h.log,
			Metrics:          h.metrics,
		})
		h.stores[name] = s
		h.log.Info("stream created", zap.String("stream", name))
	}
	return s, nil
}

// session is one websocket connection's state: which writer ranks and
// reader IDs it opened, so a dropped connection releases them.
type session struct {
	hub  *Hub
	conn *websocket.Conn
	log  *zap.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	writers map[string]map[int]bool    // stream -> writer ranks seen
	readers map[string]map[string]bool // stream -> reader IDs opened
}

func (h *Hub) handleStream(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	h.metrics.BridgeConnections.Inc()
	defer h.metrics.BridgeConnections.Dec()

	sess := &session{
		hub:     h,
		conn:    conn,
		log:     h.log.With(zap.String("remote", conn.RemoteAddr().String())),
		writers: make(map[string]map[int]bool),
		readers: make(map[string]map[string]bool),
	}
	sess.run()
}

// run reads request frames until the connection drops. Each request is
// served on its own goroutine because Await parks.
func (s *session) run() {
	defer s.cleanup()

	var handlers sync.WaitGroup
	defer handlers.Wait()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.log.Debug("session closed", zap.Error(err))
			return
		}
		s.hub.metrics.BridgeBytesIn.Add(float64(len(data)))

		var req request
		if err := sonic.Unmarshal(data, &req); err != nil {
			s.log.Warn("corrupt request frame", zap.Error(err))
			return
		}
		handlers.Add(1)
		go func() {
			defer handlers.Done()
			s.reply(s.serve(req))
		}()
	}
}

// cleanup releases everything the connection opened. A vanished writer
// counts as closed so its group can still reach end of stream.
func (s *session) cleanup() {
	_ = s.conn.Close()
	s.mu.Lock()
	writers, readers := s.writers, s.readers
	s.writers = make(map[string]map[int]bool)
	s.readers = make(map[string]map[string]bool)
	s.mu.Unlock()

	for stream, ranks := range writers {
		store, err := s.hub.store(stream, false)
		if err != nil {
			continue
		}
		for rank := range ranks {
			_ = store.CloseWriter(rank)
		}
	}
	for stream, ids := range readers {
		store, err := s.hub.store(stream, false)
		if err != nil {
			continue
		}
		for id := range ids {
			_ = store.CloseReader(id)
		}
	}
}

func (s *session) trackWriter(stream string, rank int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writers[stream] == nil {
		s.writers[stream] = make(map[int]bool)
	}
	s.writers[stream][rank] = true
}

func (s *session) forgetWriter(stream string, rank int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.writers[stream], rank)
}

func (s *session) trackReader(stream, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readers[stream] == nil {
		s.readers[stream] = make(map[string]bool)
	}
	s.readers[stream][id] = true
}

func (s *session) forgetReader(stream, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.readers[stream], id)
}

func (s *session) reply(resp response) {
	data, err := sonic.Marshal(resp)
	if err != nil {
		s.log.Error("encode response", zap.Error(err))
		return
	}
	s.writeMu.Lock()
	err = s.conn.WriteMessage(websocket.TextMessage, data)
	s.writeMu.Unlock()
	if err != nil {
		s.log.Debug("write response", zap.Error(err))
		return
	}
	s.hub.metrics.BridgeBytesOut.Add(float64(len(data)))
}

func (s *session) serve(req request) response {
	switch req.Op {
	case opOpenWriter:
		store, err := s.hub.store(req.Stream, true)
		if err != nil {
			return failure(req.ID, err)
		}
		if err := store.OpenWriter(req.Rank, req.Size); err != nil {
			return failure(req.ID, err)
		}
		s.trackWriter(req.Stream, req.Rank)
		return response{ID: req.ID}

	case opCompleteStep:
		store, err := s.hub.store(req.Stream, false)
		if err != nil {
			return failure(req.ID, err)
		}
		payloads := make([]step.Payload, len(req.Payloads))
		for i, b := range req.Payloads {
			sel, err := b.Sel.selection()
			if err != nil {
				return failure(req.ID, err)
			}
			data, err := unpack(b.Data, b.Compressed)
			if err != nil {
				return failure(req.ID, err)
			}
			payloads[i] = step.Payload{Var: b.Var, Sel: sel, Data: data}
		}
		if err := store.CompleteStep(req.Rank, req.Seq, payloads); err != nil {
			return failure(req.ID, err)
		}
		return response{ID: req.ID}

	case opCloseWriter:
		store, err := s.hub.store(req.Stream, false)
		if err != nil {
			return failure(req.ID, err)
		}
		if err := store.CloseWriter(req.Rank); err != nil {
			return failure(req.ID, err)
		}
		s.forgetWriter(req.Stream, req.Rank)
		return response{ID: req.ID}

	case opOpenReader:
		store, err := s.hub.store(req.Stream, false)
		if err != nil {
			return failure(req.ID, err)
		}
		if err := store.OpenReader(req.Reader, req.Size); err != nil {
			return failure(req.ID, err)
		}
		s.trackReader(req.Stream, req.Reader)
		return response{ID: req.ID}

	case opAwait:
		store, err := s.hub.store(req.Stream, false)
		if err != nil {
			return failure(req.ID, err)
		}
		timeout := time.Duration(-1)
		if req.TimeoutMS >= 0 {
			timeout = time.Duration(req.TimeoutMS) * time.Millisecond
		}
		info, status, err := store.Await(req.Reader, step.Mode(req.Mode), req.After, timeout)
		if err != nil {
			return failure(req.ID, err)
		}
		return response{ID: req.ID, Status: int(status), Seq: info.Seq, Vars: info.Vars}

	case opRead:
		return s.serveRead(req)

	case opRetire:
		store, err := s.hub.store(req.Stream, false)
		if err != nil {
			return failure(req.ID, err)
		}
		if err := store.Retire(req.Reader, req.Seq); err != nil {
			return failure(req.ID, err)
		}
		return response{ID: req.ID}

	case opCloseReader:
		store, err := s.hub.store(req.Stream, false)
		if err != nil {
			return failure(req.ID, err)
		}
		if err := store.CloseReader(req.Reader); err != nil {
			return failure(req.ID, err)
		}
		s.forgetReader(req.Stream, req.Reader)
		return response{ID: req.ID}

	default:
		return failure(req.ID, fmt.Errorf("unknown operation %q", req.Op))
	}
}

// serveRead clips the sealed step's payloads to the requested
// selection and ships only the intersecting fragments, preserving
// writer order so overlaps resolve the same way everywhere.
func (s *session) serveRead(req request) response {
	store, err := s.hub.store(req.Stream, false)
	if err != nil {
		return failure(req.ID, err)
	}
	if req.Sel == nil {
		return failure(req.ID, fmt.Errorf("read without a selection"))
	}
	sel, err := req.Sel.selection()
	if err != nil {
		return failure(req.ID, err)
	}

	fragments, err := store.Fragments(req.Seq, req.Name, sel)
	if err != nil {
		return failure(req.ID, err)
	}

	blocks := make([]wireBlock, len(fragments))
	for i, f := range fragments {
		data, compressed := pack(f.Data, s.hub.threshold)
		blocks[i] = wireBlock{
			Var:        f.Var,
			Sel:        toWireSelection(f.Sel),
			Data:       data,
			Compressed: compressed,
		}
	}
	return response{ID: req.ID, Blocks: blocks}
}
