package server

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-meetagent/pkg/agent"
	"github.com/teslashibe/go-meetagent/pkg/hub"
)

const localSession = "session"

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":   "ok",
		"version":  s.config.Version,
		"instance": s.config.InstanceURL,
		"sessions": s.registry.Len(),
	})
}

func (s *Server) handleNotFound(c *fiber.Ctx) error {
	c.Status(fiber.StatusNotFound)
	return nil
}

// bearerToken extracts the token from an Authorization header.
func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// handleInit starts the meeting's session. It answers 200 with an empty
// body, 401 without a bearer token, 409 if the session was already
// initialized and 502 if the chain could not start.
func (s *Server) handleInit(c *fiber.Ctx) error {
	id := meetingID(c)
	token, ok := bearerToken(c.Get(fiber.HeaderAuthorization))
	if !ok {
		c.Status(fiber.StatusUnauthorized)
		return nil
	}

	if handled, err := s.forward(c, id, true); handled {
		return err
	}

	sess := s.registry.Get(id)
	err := sess.Init(c.UserContext(), agent.InitParams{
		AgentID:   id,
		MeetingID: id,
		AuthToken: token,
		WorkerURL: c.Hostname(),
		AccountID: s.config.AccountID,
		APIToken:  s.config.APIToken,
	})
	switch {
	case err == nil:
		s.refresh(c.UserContext(), sess)
		c.Status(fiber.StatusOK)
		return nil
	case errors.Is(err, agent.ErrInvalidState):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, agent.ErrValidation):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	default:
		s.logger.Error("init failed", "meeting_id", id, "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
	}
}

func (s *Server) refresh(ctx context.Context, sess *agent.Session) {
	if err := s.dir.Refresh(ctx, sess.ID(), s.config.InstanceURL, sess.State().String()); err != nil {
		s.logger.Warn("directory refresh failed", "meeting_id", sess.ID(), "error", err)
	}
}

// handleDeinit stops the meeting's session if there is one. It always
// answers 200 with an empty body.
func (s *Server) handleDeinit(c *fiber.Ctx) error {
	id := meetingID(c)
	if handled, err := s.forward(c, id, false); handled {
		return err
	}

	if sess, ok := s.registry.Lookup(id); ok {
		ctx, cancel := context.WithTimeout(c.UserContext(), s.config.DeinitTimeout)
		defer cancel()
		if err := sess.Deinit(ctx); err != nil {
			s.logger.Warn("deinit incomplete", "meeting_id", id, "error", err)
		}
	}
	c.Status(fiber.StatusOK)
	return nil
}

func (s *Server) session(c *fiber.Ctx) (*agent.Session, bool) {
	sess, ok := s.registry.Lookup(meetingID(c))
	if !ok {
		c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no session for meeting"})
	}
	return sess, ok
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	if handled, err := s.forward(c, meetingID(c), false); handled {
		return err
	}
	sess, ok := s.session(c)
	if !ok {
		return nil
	}
	return c.JSON(sess.Status())
}

// AnnounceRequest is the body of POST /agentsInternal/announce.
type AnnounceRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleAnnounce(c *fiber.Ctx) error {
	if handled, err := s.forward(c, meetingID(c), false); handled {
		return err
	}

	var req AnnounceRequest
	if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "text required"})
	}
	sess, ok := s.session(c)
	if !ok {
		return nil
	}
	if err := sess.Announce(req.Text); err != nil {
		if errors.Is(err, agent.ErrNotRunning) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
		}
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"queued": true})
}

// upgradeEvents admits websocket upgrades for running sessions owned by
// this instance.
func (s *Server) upgradeEvents(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	id := meetingID(c)
	if owner, local, err := s.owner(c.UserContext(), id, false); err == nil && !local {
		return c.Status(fiber.StatusMisdirectedRequest).JSON(fiber.Map{"owner": owner})
	}
	sess, ok := s.session(c)
	if !ok {
		return nil
	}
	if sess.State() != agent.Running {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": agent.ErrNotRunning.Error()})
	}
	c.Locals(localSession, sess)
	return c.Next()
}

func (s *Server) handleEvents() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		sess, ok := conn.Locals(localSession).(*agent.Session)
		if !ok {
			conn.Close()
			return
		}
		s.logger.Debug("event client connected", "meeting_id", sess.ID())
		hub.Serve(sess.Events(), conn)
	})
}
