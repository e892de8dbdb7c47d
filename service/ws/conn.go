// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package ws

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mattermost/mattermost/server/public/shared/mlog"
)

const (
	sendChSize    = 256
	receiveChSize = 256
)

var ErrConnClosed = errors.New("connection is closed")

// Conn is a single WebSocket connection. Frames read from the socket are
// delivered through ReceiveCh which gets closed once the connection is
// gone. Frames queued through Send are written by a dedicated goroutine.
type Conn struct {
	id  string
	ws  *websocket.Conn
	log mlog.LoggerIFace
	cfg connConfig

	sendCh    chan Message
	receiveCh chan Message
	closeCh   chan struct{}
	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup
}

func newConn(id string, ws *websocket.Conn, cfg connConfig, log mlog.LoggerIFace) *Conn {
	return &Conn{
		id:        id,
		ws:        ws,
		log:       log,
		cfg:       cfg.withDefaults(),
		sendCh:    make(chan Message, sendChSize),
		receiveCh: make(chan Message, receiveChSize),
		closeCh:   make(chan struct{}),
	}
}

func (c *Conn) start() {
	c.ws.SetReadLimit(c.cfg.maxMessageSize)

	if c.cfg.pingInterval > 0 {
		if err := c.ws.SetReadDeadline(time.Now().Add(2 * c.cfg.pingInterval)); err != nil {
			c.log.Warn("ws: failed to set read deadline", mlog.String("connID", c.id), mlog.Err(err))
		}
		c.ws.SetPongHandler(func(string) error {
			return c.ws.SetReadDeadline(time.Now().Add(2 * c.cfg.pingInterval))
		})
	}

	c.wg.Add(2)
	go c.reader()
	go c.writer()
}

// ID returns the connection identifier.
func (c *Conn) ID() string {
	return c.id
}

// ReceiveCh returns the channel of incoming frames.
func (c *Conn) ReceiveCh() <-chan Message {
	return c.receiveCh
}

// Done is closed once the connection starts closing.
func (c *Conn) Done() <-chan struct{} {
	return c.closeCh
}

// Send queues a frame for writing. It never blocks.
func (c *Conn) Send(msg Message) error {
	select {
	case <-c.closeCh:
		return fmt.Errorf("failed to send message: %w", ErrConnClosed)
	default:
	}

	select {
	case c.sendCh <- msg:
	default:
		return fmt.Errorf("failed to send message: channel is full")
	}

	return nil
}

// Close shuts the connection down. It's safe to call multiple times.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closeCh)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(c.cfg.writeTimeout))
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

func (c *Conn) wait() {
	c.wg.Wait()
}

func (c *Conn) reader() {
	defer c.wg.Done()
	defer close(c.receiveCh)
	defer c.Close()

	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.closeCh:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.log.Warn("ws: read failed", mlog.String("connID", c.id), mlog.Err(err))
				}
			}
			return
		}

		msgType, ok := messageTypeFromWS(mt)
		if !ok {
			c.log.Warn("ws: unexpected message type", mlog.String("connID", c.id), mlog.Int("type", mt))
			continue
		}

		select {
		case c.receiveCh <- Message{Type: msgType, Data: data}:
		case <-c.closeCh:
			return
		}
	}
}

func (c *Conn) writer() {
	defer c.wg.Done()

	var pingCh <-chan time.Time
	if c.cfg.pingInterval > 0 {
		ticker := time.NewTicker(c.cfg.pingInterval)
		defer ticker.Stop()
		pingCh = ticker.C
	}

	for {
		select {
		case msg := <-c.sendCh:
			if err := c.ws.SetWriteDeadline(time.Now().Add(c.cfg.writeTimeout)); err != nil {
				c.log.Warn("ws: failed to set write deadline", mlog.String("connID", c.id), mlog.Err(err))
			}
			if err := c.ws.WriteMessage(msg.Type.toWS(), msg.Data); err != nil {
				c.log.Error("ws: failed to write message", mlog.String("connID", c.id), mlog.Err(err))
				c.Close()
				return
			}
		case <-pingCh:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.writeTimeout)); err != nil {
				c.log.Error("ws: failed to write ping", mlog.String("connID", c.id), mlog.Err(err))
				c.Close()
				return
			}
		case <-c.closeCh:
			return
		}
	}
}
