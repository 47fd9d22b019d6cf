package ws

import (
	"context"
	"errors"
	"time"

	"github.com/whisper/chatroom/internal/chat"
	"github.com/whisper/chatroom/internal/protocol"
)

// dispatch handles one client text frame. Only ping is understood; it counts
// as a participant heartbeat and is answered with pong. Anything else gets
// an error frame.
func (s *Server) dispatch(c *Connection, data []byte) {
	msgType, _, err := protocol.ParseClientMessage(data)
	if err != nil {
		if msgType == "" {
			s.logger.Debug("dispatch parse error", "conn", c.ID, "err", err)
			s.sendError(c, "parse_error", "invalid message format")
			return
		}
		s.logger.Debug("unsupported message type", "conn", c.ID, "type", msgType)
		s.sendError(c, "unsupported_type", "unsupported message type")
		return
	}

	// ParseClientMessage only accepts ping.
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.presence.Touch(ctx, c.User); err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			s.sendError(c, "not_online", "participant is not in the room")
			s.RemoveConnection(c)
			return
		}
		s.logger.Warn("heartbeat refresh failed", "conn", c.ID, "user", c.User, "err", err)
		s.sendError(c, "unavailable", "heartbeat not recorded")
		return
	}
	s.sendPong(c)
}

// sendError sends a structured error message back to the client. Errors during
// message construction or transmission are logged but not propagated.
func (s *Server) sendError(c *Connection, code string, message string) {
	data, err := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
		Code:    code,
		Message: message,
	})
	if err != nil {
		s.logger.Error("failed to build error message", "conn", c.ID, "err", err)
		return
	}

	if err := c.WriteMessage(data, s.config.WriteTimeout); err != nil {
		s.logger.Debug("failed to send error message", "conn", c.ID, "err", err)
	}
}

func (s *Server) sendPong(c *Connection) {
	data, err := protocol.NewServerMessage(protocol.TypePong, protocol.PongMsg{})
	if err != nil {
		s.logger.Error("failed to build pong message", "conn", c.ID, "err", err)
		return
	}

	if err := c.WriteMessage(data, s.config.WriteTimeout); err != nil {
		s.logger.Debug("failed to send pong message", "conn", c.ID, "err", err)
	}
}
