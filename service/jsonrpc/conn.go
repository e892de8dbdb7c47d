// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package jsonrpc

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/mattermost/switchboard/service/ws"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
)

const receiveChSize = 64

// FrameConn is a bidirectional stream of WebSocket frames.
type FrameConn interface {
	ReceiveCh() <-chan ws.Message
	Send(msg ws.Message) error
}

// Conn decodes incoming frames into messages and encodes outgoing
// messages using the encoding of the last frame received. Frames that fail
// to decode are logged and dropped.
type Conn struct {
	fc        FrameConn
	log       mlog.LoggerIFace
	receiveCh chan Message
	binary    atomic.Bool
}

func NewConn(fc FrameConn, log mlog.LoggerIFace) (*Conn, error) {
	if fc == nil {
		return nil, fmt.Errorf("fc should not be nil")
	}
	if log == nil {
		return nil, fmt.Errorf("log should not be nil")
	}

	c := &Conn{
		fc:        fc,
		log:       log,
		receiveCh: make(chan Message, receiveChSize),
	}

	go c.reader()

	return c, nil
}

// ReceiveCh returns the channel of decoded messages. It's closed when the
// underlying frame stream ends.
func (c *Conn) ReceiveCh() <-chan Message {
	return c.receiveCh
}

// Send encodes and queues a message.
func (c *Conn) Send(msg Message) error {
	var frame ws.Message
	var err error
	if c.binary.Load() {
		frame.Type = ws.BinaryMessage
		frame.Data, err = EncodeMsgpack(msg)
	} else {
		frame.Type = ws.TextMessage
		frame.Data, err = Encode(msg)
	}
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	return c.fc.Send(frame)
}

func (c *Conn) reader() {
	defer close(c.receiveCh)

	for frame := range c.fc.ReceiveCh() {
		var msg Message
		var err error
		switch frame.Type {
		case ws.BinaryMessage:
			c.binary.Store(true)
			msg, err = DecodeMsgpack(frame.Data)
		default:
			c.binary.Store(false)
			msg, err = Decode(frame.Data)
		}

		if errors.Is(err, ErrProtocol) {
			c.log.Warn("jsonrpc: dropping invalid frame", mlog.Err(err), mlog.String("type", frame.Type.String()))
			continue
		} else if err != nil {
			c.log.Error("jsonrpc: failed to decode frame", mlog.Err(err))
			continue
		}

		c.receiveCh <- msg
	}
}
