package server

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/proxy"
)

const (
	localMeetingID = "meetingId"

	// headerForwardedBy marks a request already forwarded by an instance.
	headerForwardedBy = "X-Meetagent-Forwarded-By"
)

// requireMeeting rejects requests without a meetingId query parameter.
func (s *Server) requireMeeting(c *fiber.Ctx) error {
	id := c.Query("meetingId")
	if id == "" {
		c.Status(fiber.StatusBadRequest)
		return nil
	}
	c.Locals(localMeetingID, id)
	return c.Next()
}

func meetingID(c *fiber.Ctx) string {
	id, _ := c.Locals(localMeetingID).(string)
	return id
}

// recordRequest counts every response by route and status class.
func (s *Server) recordRequest(c *fiber.Ctx) error {
	if s.config.Metrics == nil {
		return c.Next()
	}
	if err := c.Next(); err != nil {
		if herr := c.App().ErrorHandler(c, err); herr != nil {
			c.Status(fiber.StatusInternalServerError)
		}
	}
	s.config.Metrics.RecordRequest(routeLabel(c.Path()), c.Response().StatusCode())
	return nil
}

func routeLabel(path string) string {
	switch path {
	case "/init", "/deinit", "/health", "/metrics",
		"/agentsInternal/status", "/agentsInternal/announce", "/agentsInternal/events":
		return path
	}
	if strings.HasPrefix(path, "/agentsInternal") {
		return "/agentsInternal/*"
	}
	return "other"
}

// forward sends the request to the instance that owns the meeting. With
// claim set, an unowned meeting is claimed for this instance first. It
// reports whether the request was answered.
//
// A request that was already forwarded is never forwarded again. It is
// served here only when this instance owns the meeting or nobody does;
// otherwise it is answered with 421 and the owner.
func (s *Server) forward(c *fiber.Ctx, id string, claim bool) (bool, error) {
	forwardedBy := c.Get(headerForwardedBy)
	ctx := c.UserContext()
	owner, local, err := s.owner(ctx, id, claim)
	if err != nil {
		s.logger.Warn("directory unavailable", "meeting_id", id, "error", err)
		if claim {
			return true, c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "session directory unavailable"})
		}
		return false, nil
	}
	if local {
		return false, nil
	}
	if forwardedBy != "" {
		s.logger.Warn("forwarded request for a meeting owned elsewhere",
			"meeting_id", id, "owner", owner, "forwarded_by", forwardedBy)
		return true, c.Status(fiber.StatusMisdirectedRequest).JSON(fiber.Map{"owner": owner})
	}

	target := strings.TrimRight(owner, "/") + c.OriginalURL()
	s.logger.Debug("forwarding to owner", "meeting_id", id, "owner", owner)
	c.Request().Header.Set(headerForwardedBy, s.config.InstanceURL)
	if err := proxy.DoTimeout(c, target, s.config.ProxyTimeout); err != nil {
		s.logger.Error("forward failed", "meeting_id", id, "owner", owner, "error", err)
		return true, c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "owner unreachable"})
	}
	return true, nil
}

func (s *Server) owner(ctx context.Context, id string, claim bool) (string, bool, error) {
	if claim {
		e, ok, err := s.dir.Claim(ctx, id, s.config.InstanceURL)
		return e.Owner, ok, err
	}
	e, found, err := s.dir.Owner(ctx, id)
	if err != nil {
		return "", false, err
	}
	return e.Owner, !found || e.Owner == s.config.InstanceURL, nil
}
