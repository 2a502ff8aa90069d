package hub

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/ssau-fiit/coedit-api/internal/config"
)

// wire is the subset of *websocket.Conn the session needs. Tests swap in
// an in-memory implementation.
type wire interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
}

// Session is one user's live attachment to a document. The coordinator is
// the only writer to send; the write pump is its only reader.
type Session struct {
	ID     string
	UserID string

	conn      wire
	send      chan ServerMessage
	limiter   *rate.Limiter
	closeOnce sync.Once
}

// NewSession wraps an upgraded connection. The presence limiter drops
// cursor spam in the read pump before it ever reaches the coordinator.
func NewSession(conn wire, userID string, cfg config.Session) *Session {
	return &Session{
		ID:      uuid.NewString(),
		UserID:  userID,
		conn:    conn,
		send:    make(chan ServerMessage, cfg.SendBuffer),
		limiter: rate.NewLimiter(rate.Limit(cfg.PresencePerSecond), cfg.PresenceBurst),
	}
}

// Close shuts the underlying connection. Safe to call from any goroutine,
// any number of times.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.conn != nil {
			s.conn.Close()
		}
	})
}

// Run services the connection until the client goes away or the
// coordinator evicts the session. It blocks; callers run it per connection.
func (s *Session) Run(c *Coordinator) {
	go s.writePump()
	s.readPump(c)
}

func (s *Session) readPump(c *Coordinator) {
	defer func() {
		c.Detach(s)
		s.Close()
	}()
	for {
		var msg ClientMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case TypeSubmit:
			if err := c.Submit(s, msg.Ops, msg.KnownVersion); err != nil {
				return
			}
		case TypePresence:
			if !s.limiter.Allow() {
				continue
			}
			p := Presence{
				UserID:         s.UserID,
				Cursor:         msg.Cursor,
				SelectionStart: msg.SelectionStart,
				SelectionEnd:   msg.SelectionEnd,
				LastSeen:       time.Now().UnixMilli(),
			}
			if err := c.UpdatePresence(s, p); err != nil {
				return
			}
		default:
			log.Debug().Str("type", msg.Type).Msg("ignoring unknown frame")
		}
	}
}

func (s *Session) writePump() {
	for msg := range s.send {
		if err := s.conn.WriteJSON(msg); err != nil {
			s.Close()
			return
		}
	}
	// send was closed by the coordinator: the session is detached.
	s.Close()
}
