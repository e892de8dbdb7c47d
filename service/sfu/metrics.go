// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package sfu

type Metrics interface {
	IncSessions()
	DecSessions()
	IncPeers()
	DecPeers()
	IncRouters(trackType string)
	DecRouters(trackType string)
	IncRTCConnState(state string)
	IncRTPPackets(direction, trackType string)
	AddRTPPacketBytes(direction, trackType string, value int)
	IncRTPDroppedPackets(trackType string)
	IncRTCErrors(errType string)
	IncSignalDroppedEvents(evType string)
}
