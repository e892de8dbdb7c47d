// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package ws

import (
	"fmt"

	"github.com/gorilla/websocket"
)

type MessageType int

const (
	TextMessage MessageType = iota + 1
	BinaryMessage
)

func (mt MessageType) String() string {
	switch mt {
	case TextMessage:
		return "text"
	case BinaryMessage:
		return "binary"
	default:
		return fmt.Sprintf("unknown(%d)", int(mt))
	}
}

type Message struct {
	Type MessageType
	Data []byte
}

func messageTypeFromWS(mt int) (MessageType, bool) {
	switch mt {
	case websocket.TextMessage:
		return TextMessage, true
	case websocket.BinaryMessage:
		return BinaryMessage, true
	default:
		return 0, false
	}
}

func (mt MessageType) toWS() int {
	if mt == BinaryMessage {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}
