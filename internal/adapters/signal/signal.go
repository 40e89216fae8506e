// Package signal is the WebSocket transport: one connection per client,
// JSON messages in both directions.
package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/one2one/internal/core"
	"github.com/dkeye/one2one/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Dispatcher consumes decoded messages and connection loss.
type Dispatcher interface {
	Dispatch(sid domain.SessionID, msg core.Message)
	Disconnect(sid domain.SessionID)
}

type Options struct {
	ReadLimit      int64
	PingPeriod     time.Duration
	SendBuffer     int
	RegisterLimit  int
	RegisterWindow time.Duration
}

type SignalWSController struct {
	Orch    Dispatcher
	Hub     *Hub
	opts    Options
	limiter *RegisterRateLimiter
}

func NewSignalWSController(orch Dispatcher, hub *Hub, opts Options) *SignalWSController {
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = 54 * time.Second
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 32
	}
	return &SignalWSController{
		Orch:    orch,
		Hub:     hub,
		opts:    opts,
		limiter: NewRegisterRateLimiter(opts.RegisterLimit, opts.RegisterWindow),
	}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and serves the connection until either
// side closes it or ctx ends. Every connection gets a fresh session id.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	sid := domain.SessionID(uuid.NewString())
	logger := log.With().
		Str("module", "signal").
		Str("sid", string(sid)).
		Str("client_token", c.GetString("client_token")).
		Logger()
	logger.Info().Str("remote", c.Request.RemoteAddr).Msg("new WS connection")

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.opts.SendBuffer),
	}
	ctl.Hub.Bind(sid, conn)
	go ctl.serve(ctx, sid, conn, &logger)
}

func (ctl *SignalWSController) serve(ctx context.Context, sid domain.SessionID, conn *WsSignalConn, logger *zerolog.Logger) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ctl.writePump(gctx, conn, logger) })
	g.Go(func() error { return ctl.readPump(gctx, sid, conn, logger) })
	go func() {
		// Unblocks the read pump once the group is done for any reason.
		<-gctx.Done()
		conn.Close()
	}()

	err := g.Wait()
	conn.Close()
	ctl.Hub.Unbind(sid, conn)
	ctl.limiter.Forget(sid)
	ctl.Orch.Disconnect(sid)
	logger.Info().AnErr("cause", err).Msg("connection closed")
}
