// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package sfu

import (
	"errors"
)

var (
	// ErrDuplicatePeer is returned when a peer joins a session that already
	// holds a peer with the same id.
	ErrDuplicatePeer = errors.New("peer already exists")
	// ErrNoTrack is returned when subscribing to a router that has no
	// source layer (or that is already done).
	ErrNoTrack = errors.New("router has no track")
	// ErrSessionClosed is returned when operating on a session that was
	// evicted from its coordinator.
	ErrSessionClosed = errors.New("session is closed")
	// ErrTransportClosed is returned for I/O against a transport that has
	// already been closed.
	ErrTransportClosed = errors.New("transport is closed")
	// ErrNegotiation wraps any SDP create/set failure.
	ErrNegotiation = errors.New("negotiation failed")
)
