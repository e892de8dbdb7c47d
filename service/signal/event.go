// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package signal

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Target identifies which of a peer's two transports a candidate belongs to.
type Target int

const (
	TargetPublisher Target = iota
	TargetSubscriber
)

func (t Target) IsValid() error {
	if t != TargetPublisher && t != TargetSubscriber {
		return fmt.Errorf("invalid target value %d", t)
	}
	return nil
}

func (t Target) String() string {
	switch t {
	case TargetPublisher:
		return "publisher"
	case TargetSubscriber:
		return "subscriber"
	default:
		return "unknown"
	}
}

// Event is a typed signaling message, either parsed from the wire or
// produced internally to be sent to the client.
type Event interface {
	Name() string
}

// Reply is the outcome of a reply-expecting event.
type Reply struct {
	Desc *webrtc.SessionDescription
	Err  error
}

type JoinRequest struct {
	SID   string
	UID   string
	Offer webrtc.SessionDescription
	Reply chan<- Reply
}

type PublisherOffer struct {
	Desc  webrtc.SessionDescription
	Reply chan<- Reply
}

type SubscriberOffer struct {
	Desc webrtc.SessionDescription
}

type SubscriberAnswer struct {
	Desc webrtc.SessionDescription
}

type TrickleIce struct {
	Target    Target
	Candidate webrtc.ICECandidateInit
}

// Presence carries a peer's own metadata when received and the merged room
// metadata, keyed by peer id, when sent.
type Presence struct {
	Revision uint64
	Meta     json.RawMessage
}

func (JoinRequest) Name() string      { return "join" }
func (PublisherOffer) Name() string   { return "publisher_offer" }
func (SubscriberOffer) Name() string  { return "subscriber_offer" }
func (SubscriberAnswer) Name() string { return "subscriber_answer" }
func (TrickleIce) Name() string       { return "trickle" }
func (Presence) Name() string         { return "presence" }
