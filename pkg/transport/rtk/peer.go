package rtk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"gopkg.in/hraban/opus.v2"

	"github.com/teslashibe/go-meetagent/pkg/pcm"
)

// maxOpusPacket is the largest encoded packet we allow per 20ms frame.
const maxOpusPacket = 1500

// peer owns the peer connection and the Opus codecs.
type peer struct {
	pc     *webrtc.PeerConnection
	track  *webrtc.TrackLocalStaticSample
	logger *slog.Logger

	onAudio func(pcm []byte)

	encMu   sync.Mutex
	encoder *opus.Encoder
	framer  *pcm.Framer
	packet  []byte
	next    time.Time
}

func newPeer(cfg *Config, logger *slog.Logger, onICE func(*webrtc.ICECandidate), onAudio func([]byte)) (*peer, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: cfg.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: SampleRate, Channels: Channels},
		"audio", "meetagent",
	)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create audio track: %w", err)
	}
	sender, err := pc.AddTrack(track)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("add audio track: %w", err)
	}
	// RTCP must be read for interceptors to work.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	enc, err := opus.NewEncoder(SampleRate, Channels, opus.AppVoIP)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create opus encoder: %w", err)
	}

	m := &peer{
		pc:      pc,
		track:   track,
		logger:  logger,
		onAudio: onAudio,
		encoder: enc,
		framer:  pcm.NewFramer(FrameSamples),
		packet:  make([]byte, maxOpusPacket),
	}

	pc.OnICECandidate(onICE)
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Info("peer connection state", "state", state.String())
	})
	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		logger.Info("remote audio track", "codec", remote.Codec().MimeType, "ssrc", uint32(remote.SSRC()))
		go m.readTrack(remote)
	})

	return m, nil
}

func (m *peer) offer() (string, error) {
	offer, err := m.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}
	if err := m.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	return offer.SDP, nil
}

func (m *peer) answer(sdp string) error {
	return m.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
}

func (m *peer) renegotiate(sdp string) (string, error) {
	if err := m.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
		return "", fmt.Errorf("set remote description: %w", err)
	}
	answer, err := m.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}
	if err := m.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	return answer.SDP, nil
}

func (m *peer) addCandidate(c webrtc.ICECandidateInit) error {
	return m.pc.AddICECandidate(c)
}

// readTrack decodes inbound Opus packets to PCM until the track ends.
func (m *peer) readTrack(track *webrtc.TrackRemote) {
	decoder, err := opus.NewDecoder(SampleRate, Channels)
	if err != nil {
		m.logger.Error("create opus decoder", "error", err)
		return
	}

	// Max 120ms at 48kHz.
	frameBuf := make([]int16, 5760)
	var (
		lastSeq uint16
		haveSeq bool
		lost    int
	)

	for {
		packet, _, err := track.ReadRTP()
		if err != nil {
			m.logger.Debug("remote track ended", "error", err, "lost_packets", lost)
			return
		}
		if haveSeq {
			lost += int(seqGap(lastSeq, packet))
		}
		lastSeq, haveSeq = packet.SequenceNumber, true

		if len(packet.Payload) == 0 {
			continue
		}
		n, err := decoder.Decode(packet.Payload, frameBuf)
		if err != nil {
			m.logger.Debug("opus decode failed", "error", err, "payload_bytes", len(packet.Payload))
			continue
		}
		m.onAudio(pcm.SamplesToBytes(frameBuf[:n]))
	}
}

// seqGap returns how many packets are missing between last and p.
func seqGap(last uint16, p *rtp.Packet) uint16 {
	gap := p.SequenceNumber - last
	if gap == 0 || gap > 1<<15 {
		// Duplicate or reordered.
		return 0
	}
	return gap - 1
}

// write encodes PCM into 20ms Opus samples and sends them in real time.
// A trailing partial frame stays buffered for the next write.
func (m *peer) write(ctx context.Context, audio []byte, sampleRate int) error {
	samples := pcm.Resample(pcm.BytesToSamples(audio), sampleRate, SampleRate)

	m.encMu.Lock()
	defer m.encMu.Unlock()

	for _, frame := range m.framer.Write(samples) {
		n, err := m.encoder.Encode(frame, m.packet)
		if err != nil {
			return fmt.Errorf("opus encode: %w", err)
		}

		if err := m.pace(ctx); err != nil {
			return err
		}
		data := make([]byte, n)
		copy(data, m.packet[:n])
		if err := m.track.WriteSample(media.Sample{Data: data, Duration: FrameDuration}); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("write sample: %w", err)
		}
	}
	return nil
}

// pace waits until the next frame slot so playback is not sent faster
// than real time.
func (m *peer) pace(ctx context.Context) error {
	now := time.Now()
	if m.next.Before(now) {
		m.next = now
	}
	wait := m.next.Sub(now)
	m.next = m.next.Add(FrameDuration)
	if wait <= 0 {
		return nil
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (m *peer) close() error {
	return m.pc.Close()
}
