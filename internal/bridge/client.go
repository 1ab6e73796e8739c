package bridge

import (
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/stagecast/stagecast/internal/array"
	"github.com/stagecast/stagecast/internal/config"
	"github.com/stagecast/stagecast/internal/redistribute"
	"github.com/stagecast/stagecast/internal/step"
)

// Client is a remote broker: every step operation for one stream is
// forwarded to the hub over a single websocket connection. Safe for
// the concurrent use the broker contract requires; replies are matched
// to requests by frame ID.
type Client struct {
	stream    string
	conn      *websocket.Conn
	log       *zap.Logger
	threshold int

	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan response
	closed  bool
	readErr error
}

var _ step.Broker = (*Client)(nil)

// Dial connects to the hub at cfg.Addr and binds the connection to one
// stream.
func Dial(stream string, cfg config.BridgeConfig, log *zap.Logger) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	u := url.URL{Scheme: "ws", Host: cfg.Addr, Path: "/stream"}
	dialer := websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}
	conn, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("bridge: dial %s: %w", u.String(), err)
	}

	c := &Client{
		stream:    stream,
		conn:      conn,
		log:       log.With(zap.String("stream", stream), zap.String("hub", cfg.Addr)),
		threshold: cfg.CompressThreshold,
		pending:   make(map[uint64]chan response),
	}
	go c.readLoop()
	c.log.Debug("bridge connected")
	return c, nil
}

// readLoop dispatches hub replies to their waiting callers. It runs
// until the connection drops, then fails every outstanding call.
func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.fail(fmt.Errorf("bridge: connection lost: %w", err))
			return
		}
		var resp response
		if err := sonic.Unmarshal(data, &resp); err != nil {
			c.fail(fmt.Errorf("bridge: corrupt frame: %w", err))
			return
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr == nil {
		c.readErr = err
	}
	for id, ch := range c.pending {
		delete(c.pending, id)
		close(ch)
	}
}

// roundTrip sends one request frame and waits for its reply. Await
// requests may park server-side for their full timeout, so there is no
// client-side deadline beyond connection loss.
func (c *Client) roundTrip(req request) (response, error) {
	c.mu.Lock()
	if c.readErr != nil {
		err := c.readErr
		c.mu.Unlock()
		return response{}, err
	}
	if c.closed {
		c.mu.Unlock()
		return response{}, fmt.Errorf("bridge: %w: client closed", step.ErrClosed)
	}
	c.nextID++
	req.ID = c.nextID
	ch := make(chan response, 1)
	c.pending[req.ID] = ch
	c.mu.Unlock()

	data, err := sonic.Marshal(req)
	if err != nil {
		c.drop(req.ID)
		return response{}, fmt.Errorf("bridge: encode %s: %w", req.Op, err)
	}

	c.writeMu.Lock()
	err = c.conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		c.drop(req.ID)
		return response{}, fmt.Errorf("bridge: send %s: %w", req.Op, err)
	}

	resp, ok := <-ch
	if !ok {
		c.mu.Lock()
		err := c.readErr
		c.mu.Unlock()
		return response{}, err
	}
	return resp, resp.err()
}

func (c *Client) drop(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) OpenWriter(rank, size int) error {
	_, err := c.roundTrip(request{Op: opOpenWriter, Stream: c.stream, Rank: rank, Size: size})
	return err
}

func (c *Client) CompleteStep(rank int, seq uint64, payloads []step.Payload) error {
	blocks := make([]wireBlock, len(payloads))
	for i, p := range payloads {
		data, compressed := pack(p.Data, c.threshold)
		blocks[i] = wireBlock{
			Var:        p.Var,
			Sel:        toWireSelection(p.Sel),
			Data:       data,
			Compressed: compressed,
		}
	}
	_, err := c.roundTrip(request{
		Op:       opCompleteStep,
		Stream:   c.stream,
		Rank:     rank,
		Seq:      seq,
		Payloads: blocks,
	})
	return err
}

func (c *Client) CloseWriter(rank int) error {
	_, err := c.roundTrip(request{Op: opCloseWriter, Stream: c.stream, Rank: rank})
	return err
}

func (c *Client) OpenReader(id string, size int) error {
	_, err := c.roundTrip(request{Op: opOpenReader, Stream: c.stream, Reader: id, Size: size})
	return err
}

// timeoutToMillis converts a wait bound for the wire. Negative waits
// map to -1, zero stays a poll, and positive sub-millisecond waits
// round up so a bounded wait never degrades into a poll.
func timeoutToMillis(timeout time.Duration) int64 {
	switch {
	case timeout < 0:
		return -1
	case timeout == 0:
		return 0
	default:
		if ms := timeout.Milliseconds(); ms > 0 {
			return ms
		}
		return 1
	}
}

func (c *Client) Await(readerID string, mode step.Mode, after int64, timeout time.Duration) (step.Info, step.Status, error) {
	timeoutMS := timeoutToMillis(timeout)
	resp, err := c.roundTrip(request{
		Op:        opAwait,
		Stream:    c.stream,
		Reader:    readerID,
		Mode:      int(mode),
		After:     after,
		TimeoutMS: timeoutMS,
	})
	if err != nil {
		return step.Info{}, step.StatusNotReady, err
	}
	return step.Info{Seq: resp.Seq, Vars: resp.Vars}, step.Status(resp.Status), nil
}

// Read fetches the payload fragments intersecting the selection and
// redistributes them into dst locally, so regions no writer covered
// keep the caller's bytes.
func (c *Client) Read(seq uint64, name string, sel array.Selection, dst []byte) error {
	wsel := toWireSelection(sel)
	resp, err := c.roundTrip(request{
		Op:     opRead,
		Stream: c.stream,
		Seq:    seq,
		Name:   name,
		Sel:    &wsel,
	})
	if err != nil {
		return err
	}

	elemSize := 0
	blocks := make([]redistribute.Block, 0, len(resp.Blocks))
	for _, b := range resp.Blocks {
		bsel, err := b.Sel.selection()
		if err != nil {
			return err
		}
		data, err := unpack(b.Data, b.Compressed)
		if err != nil {
			return err
		}
		elemSize = b.Var.Type.Size()
		blocks = append(blocks, redistribute.Block{Sel: bsel, Data: data})
	}
	if len(blocks) == 0 {
		return nil
	}
	return redistribute.Gather(dst, sel, elemSize, blocks)
}

func (c *Client) Retire(readerID string, seq uint64) error {
	_, err := c.roundTrip(request{Op: opRetire, Stream: c.stream, Reader: readerID, Seq: seq})
	return err
}

func (c *Client) CloseReader(id string) error {
	_, err := c.roundTrip(request{Op: opCloseReader, Stream: c.stream, Reader: id})
	return err
}

// Close tears down the connection. Outstanding calls fail.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close()
}
