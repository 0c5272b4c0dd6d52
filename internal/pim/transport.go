package pim

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Default timeouts and limits for PIM communication.
const (
	// defaultConnectTimeout is the maximum time to wait for the initial
	// TCP connection.
	defaultConnectTimeout = 10 * time.Second

	// defaultWriteTimeout bounds individual write operations.
	defaultWriteTimeout = 5 * time.Second

	// defaultReconnectInterval is the delay between reconnection
	// attempts when none is configured.
	defaultReconnectInterval = 60 * time.Second

	// maxFrameSize caps a single inbound line. The longest legal frame
	// is a PU report: 2-char code + 2*24 hex chars + terminator, so
	// anything past this indicates a desynchronised or hostile peer.
	maxFrameSize = 256
)

// ConnectionState is the transport adapter's connection lifecycle
// state. It is owned exclusively by the adapter and mutated only by
// its open/close/error paths.
type ConnectionState int

// Connection states.
const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateFaulted
)

// String returns the state name for logs and metrics.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// TransportConfig holds PIM connection settings.
type TransportConfig struct {
	// Host and Port locate the serial-to-network adapter.
	Host string
	Port int

	// ConnectTimeout is the maximum time to wait for a connection.
	// Default: 10 seconds.
	ConnectTimeout time.Duration

	// ReconnectInterval is the fixed delay between reconnection
	// attempts after a connection fault. Default: 60 seconds.
	ReconnectInterval time.Duration
}

// TransportStats holds operational statistics for the transport.
type TransportStats struct {
	FramesTx        uint64
	FramesRx        uint64
	ErrorsTotal     uint64
	ReconnectsTotal uint64
	LastActivity    time.Time
	State           ConnectionState
	FaultReason     string
}

// Client owns the byte-stream connection to the PIM.
//
// A single receive goroutine splits the stream on the frame
// terminator and delivers each frame, in order, to the registered
// callback. When the connection is lost the client transitions to
// Faulted and retries after the configured reconnect interval;
// in-flight transactions are not retried across a reconnect; they
// fail by their own timeouts and the caller re-issues.
//
// Thread Safety: all methods are safe for concurrent use.
type Client struct {
	cfg  TransportConfig
	conn net.Conn

	stateMu     sync.RWMutex
	state       ConnectionState
	faultReason string

	onFrame    func([]byte)
	callbackMu sync.RWMutex

	done *closeOnce
	wg   sync.WaitGroup

	logger   Logger
	loggerMu sync.RWMutex

	framesTx        atomic.Uint64
	framesRx        atomic.Uint64
	errorsTotal     atomic.Uint64
	reconnectsTotal atomic.Uint64
	lastActivity    atomic.Int64 // Unix timestamp
}

// Dial connects to the PIM and starts the receive loop.
//
// Parameters:
//   - ctx: context for the initial connection
//   - cfg: connection configuration
//
// Returns:
//   - *Client: connected client ready for use
//   - error: ErrConnectionFailed if the dial fails
func Dial(ctx context.Context, cfg TransportConfig) (*Client, error) {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}

	c := &Client{
		cfg:   cfg,
		state: StateConnecting,
		done:  newCloseOnce(),
	}

	conn, err := c.dial(ctx)
	if err != nil {
		c.setState(StateDisconnected, "")
		return nil, err
	}

	c.conn = conn
	c.setState(StateConnected, "")
	c.lastActivity.Store(time.Now().Unix())

	c.wg.Add(1)
	go c.receiveLoop()

	return c, nil
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	address := net.JoinHostPort(c.cfg.Host, fmt.Sprintf("%d", c.cfg.Port))

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrConnectionFailed, address, err)
	}
	return conn, nil
}

// receiveLoop reads terminator-delimited frames and delivers them to
// the callback. On connection loss it reconnects after the configured
// interval until Close is called.
func (c *Client) receiveLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done.Done():
			return
		default:
		}

		c.stateMu.RLock()
		conn := c.conn
		c.stateMu.RUnlock()

		if conn == nil {
			if !c.reconnect() {
				return
			}
			continue
		}

		reader := bufio.NewReaderSize(conn, maxFrameSize)
		if err := c.readFrames(reader); err != nil {
			if c.isClosed() {
				return
			}
			c.errorsTotal.Add(1)
			c.logError("connection fault", err)
			c.setState(StateFaulted, err.Error())
			c.closeConn()

			if !c.reconnect() {
				return
			}
		}
	}
}

// readFrames delivers frames until a read error occurs. Oversized
// lines abort the connection: the stream cannot be resynchronised
// safely once framing is lost.
func (c *Client) readFrames(reader *bufio.Reader) error {
	for {
		frame, err := reader.ReadBytes(Terminator)
		if err != nil {
			if errors.Is(err, bufio.ErrBufferFull) {
				return fmt.Errorf("frame exceeds %d bytes, closing to resync", maxFrameSize)
			}
			return err
		}

		c.framesRx.Add(1)
		c.lastActivity.Store(time.Now().Unix())

		c.callbackMu.RLock()
		callback := c.onFrame
		c.callbackMu.RUnlock()

		if callback != nil {
			c.deliver(callback, frame)
		}
	}
}

// deliver invokes the frame callback with panic recovery so a bad
// handler cannot kill the receive loop.
func (c *Client) deliver(callback func([]byte), frame []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.errorsTotal.Add(1)
			c.logError("frame callback panic", fmt.Errorf("%v", r))
		}
	}()
	callback(frame)
}

// reconnect retries the connection at the configured fixed interval.
// Returns false if shutdown was signalled.
func (c *Client) reconnect() bool {
	for {
		select {
		case <-c.done.Done():
			return false
		case <-time.After(c.cfg.ReconnectInterval):
		}

		c.setState(StateConnecting, "")
		c.logInfo("attempting reconnection", "interval", c.cfg.ReconnectInterval.String())

		conn, err := c.dial(context.Background())
		if err != nil {
			c.errorsTotal.Add(1)
			c.logError("reconnect failed", err)
			c.setState(StateFaulted, err.Error())
			continue
		}

		c.stateMu.Lock()
		c.conn = conn
		c.stateMu.Unlock()

		c.setState(StateConnected, "")
		c.reconnectsTotal.Add(1)
		c.lastActivity.Store(time.Now().Unix())
		c.logInfo("reconnection successful", "total_reconnects", c.reconnectsTotal.Load())
		return true
	}
}

// Send writes framed bytes to the PIM.
//
// Returns ErrNotConnected when the transport is not connected, or
// ErrTransport wrapping the underlying write error.
func (c *Client) Send(data []byte) error {
	c.stateMu.RLock()
	conn := c.conn
	state := c.state
	c.stateMu.RUnlock()

	if state != StateConnected || conn == nil {
		return ErrNotConnected
	}

	if err := conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout)); err != nil {
		return fmt.Errorf("%w: set deadline: %w", ErrTransport, err)
	}
	if _, err := conn.Write(data); err != nil {
		c.errorsTotal.Add(1)
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}

	c.framesTx.Add(1)
	c.lastActivity.Store(time.Now().Unix())
	return nil
}

// SetOnFrame registers the inbound frame callback. Frames are
// delivered in arrival order on the receive goroutine; the callback
// must not block.
func (c *Client) SetOnFrame(callback func([]byte)) {
	c.callbackMu.Lock()
	c.onFrame = callback
	c.callbackMu.Unlock()
}

// SetLogger sets the logger for this client.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// IsConnected reports whether the transport is connected.
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// Stats returns current operational statistics.
func (c *Client) Stats() TransportStats {
	c.stateMu.RLock()
	state := c.state
	reason := c.faultReason
	c.stateMu.RUnlock()

	return TransportStats{
		FramesTx:        c.framesTx.Load(),
		FramesRx:        c.framesRx.Load(),
		ErrorsTotal:     c.errorsTotal.Load(),
		ReconnectsTotal: c.reconnectsTotal.Load(),
		LastActivity:    time.Unix(c.lastActivity.Load(), 0),
		State:           state,
		FaultReason:     reason,
	}
}

// Close shuts the client down. Safe to call multiple times.
func (c *Client) Close() error {
	c.done.Close()

	c.closeConn()
	c.setState(StateDisconnected, "")

	c.wg.Wait()
	c.logInfo("connection closed")
	return nil
}

func (c *Client) closeConn() {
	c.stateMu.Lock()
	if c.conn != nil {
		c.conn.Close() //nolint:errcheck // Best effort on teardown
		c.conn = nil
	}
	c.stateMu.Unlock()
}

func (c *Client) setState(state ConnectionState, reason string) {
	c.stateMu.Lock()
	c.state = state
	c.faultReason = reason
	c.stateMu.Unlock()
}

func (c *Client) isClosed() bool {
	select {
	case <-c.done.Done():
		return true
	default:
		return false
	}
}

func (c *Client) logInfo(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (c *Client) logError(msg string, err error) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
