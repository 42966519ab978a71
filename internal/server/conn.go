package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"proctord/internal/proctor"
	"proctord/internal/report"
	"proctord/internal/signalbus"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

var errConnClosed = errors.New("server: connection closed")

// conn is one websocket client and the monitored session it drives. The
// client streams signals into a private bus; the monitor's notices, status
// and fullscreen commands flow back.
type conn struct {
	id      string
	srv     *Server
	ws      *websocket.Conn
	bus     *signalbus.Bus
	mon     *proctor.Monitor
	limiter *rate.Limiter
	logger  *slog.Logger

	send      chan ServerFrame
	done      chan struct{}
	closeOnce sync.Once

	fsMu   sync.Mutex
	fsWait chan error
}

func newConn(srv *Server, id string, ws *websocket.Conn) (*conn, error) {
	c := &conn{
		id:      id,
		srv:     srv,
		ws:      ws,
		bus:     signalbus.New(signalbus.Desktop()),
		limiter: rate.NewLimiter(rate.Limit(srv.cfg.SignalsPerSecond), srv.cfg.SignalBurst),
		logger:  srv.logger.With("conn_id", id),
		send:    make(chan ServerFrame, sendBuffer),
		done:    make(chan struct{}),
	}
	c.bus.SetController(c)

	opts := proctor.Options{
		Logger:   c.logger,
		Notifier: proctor.NotifierFunc(c.notify),
	}
	if srv.metrics != nil {
		opts.Observer = srv.metrics
	}
	mon, err := proctor.New(srv.monitorConfig(), c.bus, opts)
	if err != nil {
		return nil, fmt.Errorf("create monitor: %w", err)
	}
	c.mon = mon
	return c, nil
}

// run serves the connection until the client goes away or the server shuts
// it down.
func (c *conn) run() {
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump()
	}()

	c.readPump()

	c.shutdown()
	c.deactivate()
	if err := c.mon.Close(); err != nil {
		c.logger.Warn("close monitor", "error", err)
	}
	<-writerDone
	c.ws.Close()
}

// shutdown stops outbound delivery and fails any pending fullscreen request.
func (c *conn) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	c.resolveFullscreen(errConnClosed)
}

func (c *conn) readPump() {
	c.ws.SetReadLimit(c.srv.cfg.MaxMessageBytes)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(pongWait))

		var f ClientFrame
		if err := json.Unmarshal(data, &f); err != nil {
			c.sendError(fmt.Sprintf("malformed frame: %v", err))
			continue
		}
		c.handle(f)
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case f := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.srv.cfg.WriteTimeout))
			if err := c.ws.WriteJSON(f); err != nil {
				c.logger.Debug("websocket write failed", "error", err)
				// Unblock the reader.
				c.ws.Close()
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.srv.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.ws.Close()
				return
			}

		case <-c.done:
			c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.srv.cfg.WriteTimeout))
			return
		}
	}
}

func (c *conn) handle(f ClientFrame) {
	switch {
	case f.Action != "" && f.Event != "":
		c.sendError("frame must carry exactly one of action and event")
	case f.Event != "":
		c.handleEvent(f)
	case f.Action != "":
		c.handleAction(f)
	default:
		c.sendError("frame must carry exactly one of action and event")
	}
}

func (c *conn) handleEvent(f ClientFrame) {
	if !c.limiter.Allow() {
		if c.srv.metrics != nil {
			c.srv.metrics.ThrottledTotal.Inc()
		}
		c.sendError("rate limited: " + f.Event)
		return
	}

	sig, err := f.Signal()
	if err != nil {
		c.sendError(err.Error())
		return
	}
	if c.srv.metrics != nil {
		c.srv.metrics.RecordSignal(sig.Kind)
	}

	out := c.bus.Emit(sig)
	if out.Prevented || out.UnloadPrompt != "" {
		c.enqueue(ServerFrame{
			Type:         FrameOutcome,
			Event:        string(sig.Kind),
			Prevented:    out.Prevented,
			UnloadPrompt: out.UnloadPrompt,
		})
	}
}

func (c *conn) handleAction(f ClientFrame) {
	switch f.Action {
	case ActionHello:
		if f.Capabilities != nil {
			c.bus.SetCapabilities(*f.Capabilities)
		}
		if f.Window != nil {
			c.bus.SetWindowMetrics(*f.Window)
		}
		c.sendStatus()

	case signalbus.ActionActivate:
		if err := c.mon.SetConfig(c.srv.monitorConfig()); err != nil {
			c.logger.Warn("keeping previous monitor config", "error", err)
		}
		if err := c.mon.SetActive(true); err != nil {
			c.sendError(err.Error())
		}
		c.sendStatus()

	case signalbus.ActionDeactivate:
		c.deactivate()
		c.sendStatus()

	case signalbus.ActionAcknowledge:
		c.mon.Acknowledge()
		c.sendStatus()

	case signalbus.ActionEnterFullscreen:
		// The request waits for this connection's own fullscreen_result.
		go func() {
			if err := c.mon.EnterFullscreen(); err != nil {
				c.sendError(err.Error())
			}
			c.sendStatus()
		}()

	case signalbus.ActionExitFullscreen:
		if err := c.mon.ExitFullscreen(); err != nil {
			c.sendError(err.Error())
		}

	case signalbus.ActionMetrics:
		if f.Window == nil {
			c.sendError("metrics frame requires window")
			return
		}
		c.bus.SetWindowMetrics(*f.Window)

	case ActionFullscreenResult:
		c.resolveFullscreen(fullscreenError(f.Error))

	case ActionStatus:
		c.sendStatus()

	default:
		c.sendError(fmt.Sprintf("unknown action %q", f.Action))
	}
}

// deactivate ends the current session and hands its sealed log to the
// forwarder.
func (c *conn) deactivate() {
	wasActive := c.mon.Active()
	if err := c.mon.SetActive(false); err != nil {
		c.logger.Warn("deactivate", "error", err)
	}
	if !wasActive || c.srv.forwarder == nil {
		return
	}

	snap, ok := c.mon.Snapshot()
	if !ok {
		return
	}
	l, err := report.FromSnapshot(snap)
	if err != nil {
		c.logger.Error("seal session log", "session_id", snap.Session.ID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.srv.cfg.WriteTimeout)
	defer cancel()
	if err := c.srv.forwarder.Finish(ctx, l); err != nil {
		c.logger.Warn("forward session log", "session_id", l.SessionID, "error", err)
	}
}

// notify implements the monitor's notifier.
func (c *conn) notify(n proctor.Notice) {
	c.enqueue(ServerFrame{Type: FrameNotice, Notice: &n})
	if c.srv.forwarder != nil {
		c.srv.forwarder.Notify(n)
	}
}

// RequestFullscreen implements signalbus.FullscreenController. The client
// performs the request and answers with fullscreen_result.
func (c *conn) RequestFullscreen() error {
	wait := make(chan error, 1)
	c.fsMu.Lock()
	if c.fsWait != nil {
		c.fsWait <- errors.New("superseded by a newer fullscreen request")
	}
	c.fsWait = wait
	c.fsMu.Unlock()

	if !c.enqueue(ServerFrame{Type: FrameCommand, Command: CommandRequestFullscreen}) {
		c.resolveFullscreen(errConnClosed)
	}

	timer := time.NewTimer(c.srv.cfg.FullscreenTimeout)
	defer timer.Stop()
	select {
	case err := <-wait:
		return err
	case <-timer.C:
		c.fsMu.Lock()
		if c.fsWait == wait {
			c.fsWait = nil
		}
		c.fsMu.Unlock()
		return ErrFullscreenTimeout
	}
}

// ExitFullscreen implements signalbus.FullscreenController. The resulting
// fullscreen_change event arrives from the client.
func (c *conn) ExitFullscreen() error {
	if !c.enqueue(ServerFrame{Type: FrameCommand, Command: CommandExitFullscreen}) {
		return errConnClosed
	}
	return nil
}

func (c *conn) resolveFullscreen(err error) {
	c.fsMu.Lock()
	defer c.fsMu.Unlock()
	if c.fsWait != nil {
		c.fsWait <- err
		c.fsWait = nil
	}
}

func (c *conn) sendStatus() {
	st := c.mon.Status()
	c.enqueue(ServerFrame{Type: FrameStatus, Status: &st})
}

func (c *conn) sendError(msg string) {
	c.enqueue(ServerFrame{Type: FrameError, Error: msg})
}

// enqueue hands f to the writer without blocking.
func (c *conn) enqueue(f ServerFrame) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- f:
		return true
	default:
		// Skip slow clients
		c.logger.Warn("outbound queue full, dropping frame", "type", f.Type)
		return false
	}
}
