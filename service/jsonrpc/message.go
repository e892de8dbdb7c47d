// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package jsonrpc

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sourcegraph/jsonrpc2"
)

var ErrProtocol = errors.New("protocol error")

// Message is one of *Request, *Response or *Notification.
type Message interface {
	isMessage()
}

type Request struct {
	ID     jsonrpc2.ID     `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type Response struct {
	ID     jsonrpc2.ID     `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *jsonrpc2.Error `json:"error,omitempty"`
}

type Notification struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

func (*Request) isMessage()      {}
func (*Response) isMessage()     {}
func (*Notification) isMessage() {}

// NewResponse builds a successful response carrying result.
func NewResponse(id jsonrpc2.ID, result interface{}) (*Response, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return &Response{ID: id, Result: data}, nil
}

// NewErrorResponse builds an error response.
func NewErrorResponse(id jsonrpc2.ID, code int64, msg string) *Response {
	return &Response{
		ID: id,
		Error: &jsonrpc2.Error{
			Code:    code,
			Message: msg,
		},
	}
}

// NewNotification builds a notification carrying params.
func NewNotification(method string, params interface{}) (*Notification, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}
	return &Notification{Method: method, Params: data}, nil
}

type envelope struct {
	ID     *jsonrpc2.ID    `json:"id"`
	Method *string         `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  *jsonrpc2.Error `json:"error"`
}

// Decode parses a JSON frame. A frame with both id and method is a
// request, one with an id only is a response, one with a method only is a
// notification.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal frame: %w", ErrProtocol, err)
	}

	switch {
	case env.ID != nil && env.Method != nil:
		if *env.Method == "" {
			return nil, fmt.Errorf("%w: empty method", ErrProtocol)
		}
		return &Request{
			ID:     *env.ID,
			Method: *env.Method,
			Params: env.Params,
		}, nil
	case env.ID != nil:
		if env.Result == nil && env.Error == nil {
			return nil, fmt.Errorf("%w: response without result or error", ErrProtocol)
		}
		return &Response{
			ID:     *env.ID,
			Result: env.Result,
			Error:  env.Error,
		}, nil
	case env.Method != nil:
		if *env.Method == "" {
			return nil, fmt.Errorf("%w: empty method", ErrProtocol)
		}
		return &Notification{
			Method: *env.Method,
			Params: env.Params,
		}, nil
	default:
		return nil, fmt.Errorf("%w: frame is neither a request, a response nor a notification", ErrProtocol)
	}
}

// Encode serializes a message to JSON.
func Encode(msg Message) ([]byte, error) {
	switch msg.(type) {
	case *Request, *Response, *Notification:
		return json.Marshal(msg)
	default:
		return nil, fmt.Errorf("unexpected message type %T", msg)
	}
}
