package ingest

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zsiec/camview/internal/logger"
	"github.com/zsiec/camview/internal/metrics"
	"github.com/zsiec/camview/pkg/version"
)

type state int

const (
	stateIdle state = iota
	stateConnecting
	stateOpen
)

type cmdKind int

const (
	cmdConnect cmdKind = iota
	cmdDisconnect
	cmdSend
)

type command struct {
	kind    cmdKind
	url     string
	payload []byte
}

// Internal events, tagged with the connection generation they belong to.
type dialResult struct {
	gen  uint64
	conn *websocket.Conn
	err  error
}

type readEnded struct {
	gen  uint64
	code int
	text string
	err  error
}

type retryDue struct {
	gen uint64
}

// WebSocketChannel is a Channel over gorilla/websocket. One goroutine owns
// the connection state; each connection gets a reader goroutine and each
// dial runs on its own goroutine so commands are never blocked by I/O.
type WebSocketChannel struct {
	cfg    Config
	dialer *websocket.Dialer
	header http.Header
	logger logger.Logger
	now    func() time.Time

	cmds   chan command
	events chan interface{}
	out    chan Message
	quit   chan struct{}
	done   chan struct{}
	once   sync.Once

	// readers must finish before out is closed
	readers sync.WaitGroup

	// owned by run
	state     state
	url       string
	reconnect bool
	conn      *websocket.Conn
	openedAt  time.Time
	cancel    context.CancelFunc
	backoff   *Backoff
	retry     *time.Timer

	gen atomic.Uint64
}

type Option func(*WebSocketChannel)

func WithLogger(l logger.Logger) Option {
	return func(c *WebSocketChannel) { c.logger = l }
}

func WithHeader(h http.Header) Option {
	return func(c *WebSocketChannel) { c.header = h }
}

func WithClock(now func() time.Time) Option {
	return func(c *WebSocketChannel) { c.now = now }
}

// WithJitter replaces the random reconnect jitter.
func WithJitter(fn func(max time.Duration) time.Duration) Option {
	return func(c *WebSocketChannel) { c.backoff.jitter = fn }
}

func NewWebSocketChannel(cfg Config, opts ...Option) *WebSocketChannel {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}

	c := &WebSocketChannel{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.DialTimeout,
		},
		logger:  logger.NewNullLogger(),
		now:     time.Now,
		cmds:    make(chan command, cfg.QueueSize),
		events:  make(chan interface{}, 8),
		out:     make(chan Message, cfg.QueueSize),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		backoff: NewBackoff(cfg),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logger.WithComponent(logger.OrNull(c.logger), "ingest")

	go c.run()
	return c
}

func (c *WebSocketChannel) Connect(url string) {
	c.command(command{kind: cmdConnect, url: url})
}

func (c *WebSocketChannel) Disconnect() {
	c.command(command{kind: cmdDisconnect})
}

func (c *WebSocketChannel) Send(payload []byte) {
	c.command(command{kind: cmdSend, payload: payload})
}

func (c *WebSocketChannel) Messages() <-chan Message {
	return c.out
}

// Terminate closes any socket without a close message and stops the
// channel. Safe to call more than once.
func (c *WebSocketChannel) Terminate() {
	c.once.Do(func() { close(c.quit) })
}

func (c *WebSocketChannel) Done() <-chan struct{} {
	return c.done
}

func (c *WebSocketChannel) command(cmd command) {
	select {
	case c.cmds <- cmd:
	case <-c.quit:
	}
}

func (c *WebSocketChannel) run() {
	metrics.IncrementGoroutineCreated("ingest")
	defer metrics.IncrementGoroutineDestroyed("ingest")
	defer close(c.done)
	defer close(c.out)

	for {
		select {
		case <-c.quit:
			c.reconnect = false
			c.teardown(false)
			c.readers.Wait()
			return
		case cmd := <-c.cmds:
			c.handleCommand(cmd)
		case ev := <-c.events:
			c.handleEvent(ev)
		}
	}
}

func (c *WebSocketChannel) handleCommand(cmd command) {
	switch cmd.kind {
	case cmdConnect:
		if cmd.url == "" {
			c.emit(Failed{Err: errors.New("missing url for connect")})
			return
		}
		if cmd.url == c.url && c.state != stateIdle {
			return
		}
		c.reconnect = true
		c.url = cmd.url
		c.backoff.Reset()
		c.stopRetry()
		c.attempt()

	case cmdDisconnect:
		c.reconnect = false
		c.teardown(true)
		c.url = ""

	case cmdSend:
		if c.state != stateOpen {
			return
		}
		if err := c.conn.WriteMessage(websocket.BinaryMessage, cmd.payload); err != nil {
			c.emit(Failed{Err: err})
		}
	}
}

func (c *WebSocketChannel) handleEvent(ev interface{}) {
	switch e := ev.(type) {
	case dialResult:
		if e.gen != c.gen.Load() {
			if e.conn != nil {
				e.conn.Close()
			}
			return
		}
		c.cancel = nil
		if e.err != nil {
			c.state = stateIdle
			c.logger.WithError(e.err).Warn("WebSocket dial failed")
			c.emit(Failed{Err: e.err})
			c.scheduleReconnect()
			return
		}

		c.conn = e.conn
		c.openedAt = c.now()
		c.state = stateOpen
		c.backoff.Reset()
		c.stopRetry()
		c.logger.WithField("url", c.url).Info("WebSocket opened")
		c.emit(Opened{})
		c.readers.Add(1)
		go c.read(e.gen, e.conn)

	case readEnded:
		if e.gen != c.gen.Load() {
			return
		}
		c.teardown(false)

		if !reconnects(e.code) {
			c.emit(Closed{Code: e.code, Reason: e.text})
			return
		}
		c.logger.WithError(e.err).WithField("code", e.code).Warn("WebSocket closed abnormally")
		c.emit(Failed{Err: e.err})
		c.scheduleReconnect()

	case retryDue:
		if e.gen != c.gen.Load() || !c.reconnect {
			return
		}
		c.retry = nil
		c.attempt()
	}
}

// attempt tears down any current socket and dials c.url.
func (c *WebSocketChannel) attempt() {
	c.teardown(false)

	gen := c.gen.Add(1)
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.state = stateConnecting

	header := c.header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set("User-Agent", version.GetInfo().Short())

	url := c.url
	go func() {
		conn, _, err := c.dialer.DialContext(ctx, url, header)
		c.event(dialResult{gen: gen, conn: conn, err: err})
	}()
}

func (c *WebSocketChannel) read(gen uint64, conn *websocket.Conn) {
	defer c.readers.Done()

	if c.cfg.ReadLimit > 0 {
		conn.SetReadLimit(c.cfg.ReadLimit)
	}

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			ended := readEnded{gen: gen, code: CloseAbnormal, err: err}
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				ended.code = ce.Code
				ended.text = ce.Text
			}
			c.event(ended)
			return
		}
		if kind != websocket.BinaryMessage || c.gen.Load() != gen {
			continue
		}

		select {
		case c.out <- VideoData{Payload: data}:
		case <-c.quit:
			return
		}
	}
}

func (c *WebSocketChannel) scheduleReconnect() {
	if !c.reconnect || c.url == "" {
		return
	}

	delay, ok := c.backoff.Next(c.now())
	if !ok {
		c.logger.WithField("url", c.url).Error("WebSocket reconnect budget exhausted")
		c.emit(Closed{Code: CloseRetriesReached, Reason: ErrMaxRetries.Error()})
		return
	}

	c.stopRetry()
	metrics.IncrementReconnects("socket")
	gen := c.gen.Load()
	c.retry = time.AfterFunc(delay, func() {
		c.event(retryDue{gen: gen})
	})
	c.logger.WithFields(map[string]interface{}{
		"delay":   delay.String(),
		"attempt": c.backoff.Retries(),
	}).Info("WebSocket reconnect scheduled")
}

// teardown drops the current socket or dial. With notify, a socket that
// was open reports a normal close.
func (c *WebSocketChannel) teardown(notify bool) {
	c.gen.Add(1)
	c.stopRetry()

	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}

	if c.conn != nil {
		conn := c.conn
		c.conn = nil
		metrics.RecordConnectionDuration(c.now().Sub(c.openedAt).Seconds())
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "teardown")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
		if notify {
			c.emit(Closed{Code: CloseNormal, Reason: "teardown"})
		}
	}

	c.state = stateIdle
}

func (c *WebSocketChannel) stopRetry() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}

func (c *WebSocketChannel) emit(m Message) {
	select {
	case c.out <- m:
	case <-c.quit:
	}
}

func (c *WebSocketChannel) event(ev interface{}) {
	select {
	case c.events <- ev:
	case <-c.quit:
	}
}
