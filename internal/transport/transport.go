// Package transport implements the AI transport: a persistent,
// length-prefixed binary TCP connection to the remote inference worker,
// with exponential-backoff-with-jitter reconnection and bidirectional
// heartbeats (spec.md §4.4). Reconnect/backoff/shutdown idiom mirrors
// the agent's websocket command-channel client, generalized from a
// JSON/text frame protocol to this length-prefixed binary one.
package transport

import (
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/simonll4/RecordingsCatalog-sub003/internal/logging"
)

var log = logging.L("transport")

const (
	initialBackoff   = 200 * time.Millisecond
	maxBackoff       = 5 * time.Second
	backoffFactor    = 2.0
	handshakeTimeout = 5 * time.Second
	heartbeatPeriod  = 10 * time.Second
	missedHeartbeats = 3
)

// ResultSink is the callback surface the feeder implements to receive
// transport lifecycle and result events. Resolves the feeder<->transport
// cyclic-construction problem (spec.md §9): both are built independently
// and wired together via SetSink once both exist; neither owns the
// other's lifetime.
type ResultSink interface {
	OnReady()
	OnResult(frameID uint64, detections []DetectionWire)
	OnDisconnect()
}

// Config configures the handshake parameters sent on every (re)connect.
type Config struct {
	Addr   string
	Model  string
	Width  int32
	Height int32
	Format string
}

// Client owns the persistent connection to the worker. Zero value is
// not usable; construct with New.
type Client struct {
	cfg  Config
	sink ResultSink

	connMu sync.RWMutex
	conn   net.Conn
	ready  bool

	writeMu sync.Mutex

	lastPeerHeartbeat atomic64Time

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	dialer func(addr string) (net.Conn, error)
}

// New builds a transport client. Call SetSink before Start.
func New(cfg Config) *Client {
	return &Client{
		cfg:  cfg,
		done: make(chan struct{}),
		dialer: func(addr string) (net.Conn, error) {
			return net.DialTimeout("tcp", addr, handshakeTimeout)
		},
	}
}

// SetSink completes the two-phase cyclic wiring with the feeder.
func (c *Client) SetSink(sink ResultSink) { c.sink = sink }

// Start begins the connect/reconnect loop in the background.
func (c *Client) Start() {
	c.wg.Add(1)
	go c.reconnectLoop()
}

// Stop closes the current connection and halts reconnection. Safe to
// call more than once.
func (c *Client) Stop() {
	c.stopOnce.Do(func() { close(c.done) })
	c.closeConn()
	c.wg.Wait()
}

// Ready reports whether the connection has completed its handshake.
func (c *Client) Ready() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.ready
}

// SendFrame submits a frame without awaiting its result; the eventual
// Result is delivered asynchronously to the sink, correlated by
// FrameID. Returns an error if not currently connected/ready.
func (c *Client) SendFrame(f Frame) error {
	if !c.Ready() {
		return fmt.Errorf("transport: not ready")
	}
	return c.writeMessage(MsgFrame, EncodeFrame(f))
}

// SendEnd is advisory: it tells the worker the current session closed.
// It does not close the connection. Errors are logged, not returned,
// matching the feeder's "best-effort notification" treatment of End.
func (c *Client) SendEnd(sessionID string) {
	if !c.Ready() {
		return
	}
	if err := c.writeMessage(MsgEnd, EncodeEnd(End{SessionID: sessionID})); err != nil {
		log.Warn("failed to send End", "sessionId", sessionID, "error", err)
	}
}

func (c *Client) writeMessage(typ MsgType, payload []byte) error {
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return fmt.Errorf("transport: no connection")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return WriteMessage(conn, typ, payload)
}

const writeWait = 10 * time.Second

func (c *Client) reconnectLoop() {
	defer c.wg.Done()

	backoff := initialBackoff
	for {
		select {
		case <-c.done:
			return
		default:
		}

		if err := c.connectAndHandshake(); err != nil {
			log.Warn("connect failed", "addr", c.cfg.Addr, "error", err)

			sleep := fullJitter(backoff)
			select {
			case <-c.done:
				return
			case <-time.After(sleep):
			}
			backoff = time.Duration(float64(backoff) * backoffFactor)
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		backoff = initialBackoff
		c.runConnection() // blocks until the connection drops

		select {
		case <-c.done:
			return
		default:
		}
	}
}

func fullJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(d)))
}

func (c *Client) connectAndHandshake() error {
	conn, err := c.dialer(c.cfg.Addr)
	if err != nil {
		return err
	}

	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	if err := WriteMessage(conn, MsgInit, EncodeInit(Init{
		Model: c.cfg.Model, Width: c.cfg.Width, Height: c.cfg.Height, Format: c.cfg.Format,
	})); err != nil {
		conn.Close()
		return err
	}

	typ, _, err := ReadMessage(conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("handshake: %w", err)
	}
	if typ != MsgInitOk {
		conn.Close()
		return fmt.Errorf("handshake: expected InitOk, got type %d", typ)
	}
	conn.SetReadDeadline(time.Time{})

	c.connMu.Lock()
	c.conn = conn
	c.ready = true
	c.connMu.Unlock()
	c.lastPeerHeartbeat.store(time.Now())

	log.Info("connected and handshook", "addr", c.cfg.Addr, "model", c.cfg.Model)
	if c.sink != nil {
		c.sink.OnReady()
	}
	return nil
}

func (c *Client) runConnection() {
	stopHeartbeat := make(chan struct{})
	go c.heartbeatLoop(stopHeartbeat)
	defer close(stopHeartbeat)

	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()

	for {
		typ, payload, err := ReadMessage(conn)
		if err != nil {
			log.Warn("connection read failed, disconnecting", "error", err)
			c.handleDisconnect()
			return
		}

		switch typ {
		case MsgResult:
			res, err := DecodeResult(payload)
			if err != nil {
				log.Warn("result decode failed, resetting connection", "error", err)
				c.handleDisconnect()
				return
			}
			if c.sink != nil {
				c.sink.OnResult(res.FrameID, res.Detections)
			}
		case MsgHeartbeat:
			c.lastPeerHeartbeat.store(time.Now())
		default:
			log.Warn("unexpected message type from worker", "type", typ)
		}
	}
}

func (c *Client) heartbeatLoop(stop chan struct{}) {
	ticker := time.NewTicker(heartbeatPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-c.done:
			return
		case <-ticker.C:
			if time.Since(c.lastPeerHeartbeat.load()) > time.Duration(missedHeartbeats)*heartbeatPeriod {
				log.Warn("missed peer heartbeats, forcing reconnect")
				c.handleDisconnect()
				return
			}
			if err := c.writeMessage(MsgHeartbeat, nil); err != nil {
				log.Warn("heartbeat send failed", "error", err)
			}
		}
	}
}

func (c *Client) handleDisconnect() {
	c.closeConn()
	if c.sink != nil {
		c.sink.OnDisconnect()
	}
}

func (c *Client) closeConn() {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	c.ready = false
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// atomic64Time is a tiny mutex-guarded time.Time holder; the package
// avoids atomic.Value's interface-type churn for this single field.
type atomic64Time struct {
	mu sync.RWMutex
	t  time.Time
}

func (a *atomic64Time) store(t time.Time) {
	a.mu.Lock()
	a.t = t
	a.mu.Unlock()
}

func (a *atomic64Time) load() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.t
}
