package rtk

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"

	"github.com/teslashibe/go-meetagent/pkg/pipeline"
	"github.com/teslashibe/go-meetagent/pkg/transport"
)

// Client is a meeting transport bound to one meeting and participant token.
type Client struct {
	meetingID string
	authToken string
	config    *Config
	logger    *slog.Logger

	participants *transport.Participants

	ws      *websocket.Conn
	wsMutex sync.Mutex

	peer *peer

	mu      sync.Mutex
	peerID  string
	joined  bool
	joinCh  chan error
	ended   chan struct{}
	endOnce sync.Once

	closeOnce sync.Once
	closed    atomic.Bool

	audioIn chan []byte
	dropped atomic.Int64
}

// New creates a transport for meetingID. Nothing is dialed until Join.
func New(meetingID, authToken string, opts ...Option) (*Client, error) {
	if authToken == "" {
		return nil, transport.ErrNoAuthToken
	}
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	return &Client{
		meetingID:    meetingID,
		authToken:    authToken,
		config:       cfg,
		logger:       cfg.Logger.With("component", "transport.rtk", "meeting_id", meetingID),
		participants: transport.NewParticipants(),
		joinCh:       make(chan error, 1),
		ended:        make(chan struct{}),
		audioIn:      make(chan []byte, cfg.InboundBuffer),
	}, nil
}

// Name returns the stage name.
func (c *Client) Name() string { return "transport.rtk" }

// Participants returns the participant event emitter.
func (c *Client) Participants() *transport.Participants { return c.participants }

// Join dials signaling, offers the audio track and waits until the meeting
// acknowledges the agent.
func (c *Client) Join(ctx context.Context) error {
	if c.closed.Load() {
		return transport.ErrClosed
	}

	u, err := url.Parse(c.config.SignalingURL)
	if err != nil {
		return fmt.Errorf("%w: signaling url: %v", transport.ErrJoinFailed, err)
	}
	q := u.Query()
	q.Set("meetingId", c.meetingID)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.authToken)

	dialer := websocket.Dialer{HandshakeTimeout: c.config.HandshakeTimeout}
	ws, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("%w: signaling connect: %v (status %d)", transport.ErrJoinFailed, err, resp.StatusCode)
		}
		return fmt.Errorf("%w: signaling connect: %v", transport.ErrJoinFailed, err)
	}
	c.ws = ws

	join := message{
		Type:      msgJoin,
		MeetingID: c.meetingID,
		Name:      c.config.DisplayName,
	}
	if c.config.Media {
		m, err := newPeer(c.config, c.logger, c.onICECandidate, c.onInboundAudio)
		if err != nil {
			c.Close()
			return fmt.Errorf("%w: %v", transport.ErrJoinFailed, err)
		}
		c.peer = m
		offer, err := m.offer()
		if err != nil {
			c.Close()
			return fmt.Errorf("%w: %v", transport.ErrJoinFailed, err)
		}
		join.SDP = offer
	}

	if err := c.send(join); err != nil {
		c.Close()
		return fmt.Errorf("%w: send join: %v", transport.ErrJoinFailed, err)
	}

	go c.readLoop()

	select {
	case err := <-c.joinCh:
		if err != nil {
			c.Close()
			return fmt.Errorf("%w: %v", transport.ErrJoinFailed, err)
		}
	case <-ctx.Done():
		c.Close()
		return fmt.Errorf("%w: %v", transport.ErrJoinFailed, ctx.Err())
	}

	c.logger.Info("joined meeting", "peer_id", c.PeerID(), "media", c.config.Media)
	return nil
}

// Leave tells the meeting the agent is leaving and closes the transport.
// Leave on a transport that never joined only closes it.
func (c *Client) Leave(ctx context.Context) error {
	if !c.Joined() {
		return c.Close()
	}

	err := c.send(message{Type: msgLeave, MeetingID: c.meetingID})
	if err == nil {
		deadline, ok := ctx.Deadline()
		if !ok {
			deadline = time.Now().Add(time.Second)
		}
		c.wsMutex.Lock()
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "leave"), deadline)
		c.wsMutex.Unlock()
	}

	c.mu.Lock()
	c.joined = false
	c.mu.Unlock()

	c.logger.Info("left meeting")
	if closeErr := c.Close(); err == nil {
		err = closeErr
	}
	return err
}

// Close releases the websocket and peer connection. Safe to call more
// than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.end()
		if c.ws != nil {
			err = c.ws.Close()
		}
		if c.peer != nil {
			if mErr := c.peer.close(); err == nil {
				err = mErr
			}
		}
	})
	return err
}

// Produce emits inbound meeting audio as 48 kHz frames. It returns nil
// when the meeting ends.
func (c *Client) Produce(ctx context.Context, out chan<- pipeline.Frame) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.ended:
			return nil
		case pcm := <-c.audioIn:
			if err := pipeline.Send(ctx, out, pipeline.AudioFrame(pcm, SampleRate)); err != nil {
				return err
			}
		}
	}
}

// Consume sends audio frames to the meeting, paced in real time. Other
// frame kinds are ignored, as is audio while media is not connected.
func (c *Client) Consume(ctx context.Context, in <-chan pipeline.Frame) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-in:
			if !ok {
				return nil
			}
			if f.Kind != pipeline.KindAudio || c.peer == nil || !c.Joined() {
				continue
			}
			if err := c.peer.write(ctx, f.Audio, f.SampleRate); err != nil {
				c.logger.Warn("audio write failed", "error", err)
			}
		}
	}
}

// Joined reports whether the meeting has acknowledged the agent.
func (c *Client) Joined() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joined
}

// PeerID returns the id the meeting assigned to the agent.
func (c *Client) PeerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerID
}

// Dropped returns how many inbound audio packets were dropped because the
// chain was not keeping up.
func (c *Client) Dropped() int64 {
	return c.dropped.Load()
}

func (c *Client) readLoop() {
	defer c.end()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if !c.closed.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.logger.Warn("signaling read failed", "error", err)
			}
			c.failJoin(fmt.Errorf("signaling closed: %w", err))
			return
		}

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Debug("ignoring malformed signaling message", "error", err)
			continue
		}
		c.handleMessage(msg)
	}
}

func (c *Client) handleMessage(msg message) {
	switch msg.Type {
	case msgJoined:
		c.participants.Seed(msg.Participants)
		c.mu.Lock()
		c.peerID = msg.PeerID
		c.joined = true
		c.mu.Unlock()
		if msg.SDP != "" && c.peer != nil {
			if err := c.peer.answer(msg.SDP); err != nil {
				c.failJoin(err)
				return
			}
		}
		c.succeedJoin()

	case msgAnswer:
		if c.peer == nil {
			return
		}
		if err := c.peer.answer(msg.SDP); err != nil {
			c.logger.Warn("apply answer failed", "error", err)
		}

	case msgOffer:
		if c.peer == nil {
			return
		}
		answer, err := c.peer.renegotiate(msg.SDP)
		if err != nil {
			c.logger.Warn("renegotiation failed", "error", err)
			return
		}
		c.send(message{Type: msgAnswer, SDP: answer})

	case msgICE:
		if c.peer == nil || msg.Candidate == nil {
			return
		}
		if err := c.peer.addCandidate(*msg.Candidate); err != nil {
			c.logger.Debug("add ICE candidate failed", "error", err)
		}

	case transport.EventParticipantJoined, transport.EventParticipantLeft:
		if msg.Participant == nil || msg.Participant.ID == c.PeerID() {
			return
		}
		c.logger.Debug("participant event", "event", msg.Type, "name", msg.Participant.Name)
		c.participants.Emit(msg.Type, *msg.Participant)

	case msgError:
		if !c.Joined() {
			c.failJoin(fmt.Errorf("meeting rejected join: %s", msg.Error))
			return
		}
		c.logger.Warn("signaling error", "error", msg.Error)

	case msgEnded:
		c.logger.Info("meeting ended")
		c.end()

	default:
		c.logger.Debug("ignoring signaling message", "type", msg.Type)
	}
}

func (c *Client) onICECandidate(cand *webrtc.ICECandidate) {
	if cand == nil {
		return
	}
	init := cand.ToJSON()
	if err := c.send(message{Type: msgICE, Candidate: &init}); err != nil {
		c.logger.Debug("send ICE candidate failed", "error", err)
	}
}

func (c *Client) onInboundAudio(pcm []byte) {
	select {
	case c.audioIn <- pcm:
	default:
		c.dropped.Add(1)
	}
}

func (c *Client) send(msg message) error {
	c.wsMutex.Lock()
	defer c.wsMutex.Unlock()
	if c.ws == nil {
		return transport.ErrNotJoined
	}
	return c.ws.WriteJSON(msg)
}

func (c *Client) succeedJoin() {
	select {
	case c.joinCh <- nil:
	default:
	}
}

func (c *Client) failJoin(err error) {
	select {
	case c.joinCh <- err:
	default:
	}
}

func (c *Client) end() {
	c.endOnce.Do(func() { close(c.ended) })
}

// Verify Client implements Transport at compile time.
var _ transport.Transport = (*Client)(nil)
