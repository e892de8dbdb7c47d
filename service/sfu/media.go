// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package sfu

import (
	"fmt"

	"github.com/mattermost/mattermost/server/public/shared/mlog"

	"github.com/pion/ice/v4"
	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/nack"
	"github.com/pion/webrtc/v4"
)

const (
	extURISDESMid          = "urn:ietf:params:rtp-hdrext:sdes:mid"
	extURIRTPStreamID      = "urn:ietf:params:rtp-hdrext:sdes:rtp-stream-id"
	extURIRepairedStreamID = "urn:ietf:params:rtp-hdrext:sdes:repaired-rtp-stream-id"
	extURIAudioLevel       = "urn:ietf:params:rtp-hdrext:ssrc-audio-level"
)

var (
	videoRTCPFeedback = []webrtc.RTCPFeedback{
		{Type: "goog-remb", Parameter: ""},
		{Type: "ccm", Parameter: "fir"},
		{Type: "nack", Parameter: ""},
		{Type: "nack", Parameter: "pli"},
	}

	audioCodecs = []webrtc.RTPCodecParameters{
		{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:    webrtc.MimeTypeOpus,
				ClockRate:   48000,
				Channels:    2,
				SDPFmtpLine: "minptime=10;useinbandfec=1",
			},
			PayloadType: 111,
		},
		{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeG722, ClockRate: 8000},
			PayloadType:        9,
		},
		{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: 8000},
			PayloadType:        0,
		},
		{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMA, ClockRate: 8000},
			PayloadType:        8,
		},
	}

	videoCodecs = []webrtc.RTPCodecParameters{
		videoCodec(webrtc.MimeTypeVP9, "profile-id=0", 98),
		videoCodec(webrtc.MimeTypeVP8, "", 96),
		rtxCodec(96, 97),
		rtxCodec(98, 99),
		videoCodec(webrtc.MimeTypeVP9, "profile-id=1", 100),
		rtxCodec(100, 101),
		videoCodec(webrtc.MimeTypeH264, "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=f4001f", 123),
		rtxCodec(123, 118),
		{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: "video/ulpfec", ClockRate: 90000},
			PayloadType:        116,
		},
	}
)

func videoCodec(mimeType, fmtp string, pt webrtc.PayloadType) webrtc.RTPCodecParameters {
	return webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:     mimeType,
			ClockRate:    90000,
			SDPFmtpLine:  fmtp,
			RTCPFeedback: videoRTCPFeedback,
		},
		PayloadType: pt,
	}
}

func rtxCodec(apt, pt webrtc.PayloadType) webrtc.RTPCodecParameters {
	return webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeRTX,
			ClockRate:   90000,
			SDPFmtpLine: fmt.Sprintf("apt=%d", apt),
		},
		PayloadType: pt,
	}
}

func initMediaEngine() (*webrtc.MediaEngine, error) {
	var m webrtc.MediaEngine

	for _, codec := range audioCodecs {
		if err := m.RegisterCodec(codec, webrtc.RTPCodecTypeAudio); err != nil {
			return nil, fmt.Errorf("failed to register audio codec %s: %w", codec.MimeType, err)
		}
	}

	for _, codec := range videoCodecs {
		if err := m.RegisterCodec(codec, webrtc.RTPCodecTypeVideo); err != nil {
			return nil, fmt.Errorf("failed to register video codec %s: %w", codec.MimeType, err)
		}
	}

	for _, ext := range []string{extURISDESMid, extURIRTPStreamID, extURIRepairedStreamID} {
		if err := m.RegisterHeaderExtension(webrtc.RTPHeaderExtensionCapability{URI: ext}, webrtc.RTPCodecTypeVideo); err != nil {
			return nil, fmt.Errorf("failed to register header extension: %w", err)
		}
	}

	for _, ext := range []string{extURISDESMid, extURIRTPStreamID, extURIRepairedStreamID, extURIAudioLevel} {
		if err := m.RegisterHeaderExtension(webrtc.RTPHeaderExtensionCapability{URI: ext}, webrtc.RTPCodecTypeAudio); err != nil {
			return nil, fmt.Errorf("failed to register header extension: %w", err)
		}
	}

	return &m, nil
}

func initInterceptors(m *webrtc.MediaEngine, nackBufferSize int) (*interceptor.Registry, error) {
	var i interceptor.Registry

	generator, err := nack.NewGeneratorInterceptor()
	if err != nil {
		return nil, fmt.Errorf("failed to create nack generator: %w", err)
	}
	i.Add(generator)

	responder, err := nack.NewResponderInterceptor(nack.ResponderSize(uint16(nackBufferSize)))
	if err != nil {
		return nil, fmt.Errorf("failed to create nack responder: %w", err)
	}
	i.Add(responder)

	if err := webrtc.ConfigureRTCPReports(&i); err != nil {
		return nil, fmt.Errorf("failed to configure rtcp reports: %w", err)
	}

	if err := webrtc.ConfigureTWCCSender(m, &i); err != nil {
		return nil, fmt.Errorf("failed to configure twcc sender: %w", err)
	}

	return &i, nil
}

func (s *Server) initSettingEngine() webrtc.SettingEngine {
	sEngine := webrtc.SettingEngine{
		LoggerFactory: s,
	}
	sEngine.SetICEMulticastDNSMode(ice.MulticastDNSModeDisabled)
	sEngine.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4})
	if s.udpMux != nil {
		sEngine.SetICEUDPMux(s.udpMux)
	}

	if s.hostIP != "" {
		s.log.Debug("rtc: announcing host address", mlog.String("addr", s.hostIP))
		sEngine.SetNAT1To1IPs([]string{s.hostIP}, webrtc.ICECandidateTypeHost)
	}

	return sEngine
}
