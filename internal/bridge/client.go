package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go2tv.app/castbridge/internal/metrics"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 64
)

// Client is a middleman between one websocket connection and the hub.
type Client struct {
	id         string
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	limiter    *rate.Limiter
	dispatcher *Dispatcher
	closeOnce  sync.Once
	log        zerolog.Logger
}

// enqueue must be called with the hub lock held.
func (c *Client) enqueue(b []byte) {
	select {
	case c.send <- b:
	default:
		metrics.BridgeFramesDroppedTotal.Inc()
		c.log.Warn().Str("Method", "enqueue").Msg("send buffer full, frame dropped")
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.hub.unregister(c)
		if err := c.conn.Close(); err != nil {
			c.log.Debug().Str("Method", "close").Err(err).Msg("close failed")
		}
	})
}

// readPump reads commands until the connection fails. Pongs extend the read
// deadline.
func (c *Client) readPump(ctx context.Context) {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug().Str("Method", "readPump").Err(err).Msg("read failed")
			}
			return
		}
		c.hub.sendTo(c, Frame{Type: EventCommandResult, Payload: c.handle(ctx, msg)})
	}
}

func (c *Client) handle(ctx context.Context, msg []byte) CommandResult {
	var cmd Command
	if err := json.Unmarshal(msg, &cmd); err != nil {
		metrics.CommandsTotal.WithLabelValues("invalid", "error").Inc()
		return CommandResult{OK: false, Error: "invalid command frame"}
	}

	if !c.limiter.Allow() {
		metrics.CommandsTotal.WithLabelValues(commandLabel(cmd.Command), "rejected").Inc()
		return CommandResult{ID: cmd.ID, Command: cmd.Command, Error: ErrRateLimited.Error()}
	}

	return c.dispatcher.Dispatch(ctx, cmd)
}

// writePump writes queued frames and keeps the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Debug().Str("Method", "writePump").Err(err).Msg("write failed")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
