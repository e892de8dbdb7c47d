// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package sfu

import (
	"github.com/pion/rtp"
)

type LayerKind int

const (
	LayerNone LayerKind = iota
	LayerUnicast
	LayerRID
)

// Layer identifies one encoding of a published track. Non simulcast
// tracks carry a single Unicast layer.
type Layer struct {
	Kind LayerKind
	RID  string
}

func LayerFromRID(rid string) Layer {
	if rid == "" {
		return Layer{Kind: LayerUnicast}
	}
	return Layer{Kind: LayerRID, RID: rid}
}

func (l Layer) String() string {
	switch l.Kind {
	case LayerUnicast:
		return "unicast"
	case LayerRID:
		return "rid:" + l.RID
	default:
		return "none"
	}
}

// Packet is what a router fans out to its subscribers. The RTP timestamp
// holds the delta from the previous packet of the same layer.
type Packet struct {
	Layer Layer
	RTP   *rtp.Packet
}
