package websocket

import (
	"time"

	"collab-app/internal/auth"
	"collab-app/internal/protocol"
	"collab-app/internal/room"
	"collab-app/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Session terminates one physical connection: inbound frames become typed
// events dispatched to the owning room, outbound events are serialized back
// to the wire through the bounded queue.
type Session struct {
	id       string
	identity auth.Identity
	conn     *websocket.Conn
	room     *room.Room
	manager  *room.Manager
	queue    *outQueue

	pingInterval time.Duration
	writeTimeout time.Duration
}

func NewSession(conn *websocket.Conn, identity auth.Identity, pingInterval, writeTimeout time.Duration, queueSize int) *Session {
	return &Session{
		id:           uuid.NewString(),
		identity:     identity,
		conn:         conn,
		queue:        newOutQueue(queueSize),
		pingInterval: pingInterval,
		writeTimeout: writeTimeout,
	}
}

func (s *Session) SessionID() string       { return s.id }
func (s *Session) Identity() auth.Identity { return s.identity }

// Send is best-effort: once the session is closed the frame is silently
// discarded and the failure surfaces through the heartbeat timeout.
func (s *Session) Send(frame protocol.Frame) {
	s.queue.push(frame)
}

// Attach binds the session to its room via the manager. Must be called once,
// before the pumps start.
func (s *Session) Attach(manager *room.Manager, roomID string) {
	s.manager = manager
	s.room = manager.Attach(roomID, s)
}

// ReadPump consumes frames until the connection dies. The read deadline is
// twice the ping interval: a session that misses two heartbeats is dead and
// triggers presence cleanup.
func (s *Session) ReadPump() {
	defer func() {
		s.manager.Detach(s.room, s)
		s.queue.close()
		s.conn.Close()
		if dropped := s.queue.droppedCount(); dropped > 0 {
			logger.Debug("session %s: shed %d ephemeral frames under backpressure", s.id, dropped)
		}
	}()

	deadline := 2 * s.pingInterval
	s.conn.SetReadDeadline(time.Now().Add(deadline))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(deadline))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Error("session %s: read: %v", s.id, err)
			}
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(deadline))

		event, err := protocol.DecodeInbound(data)
		if err != nil {
			// Malformed frames are dropped and logged; the session survives.
			logger.Warn("session %s: dropping frame: %v", s.id, err)
			continue
		}
		if err := s.room.Submit(s, event); err != nil {
			logger.Warn("session %s: submit: %v", s.id, err)
			return
		}
	}
}

// WritePump drains the outbound queue and emits pings on a fixed interval.
func (s *Session) WritePump() {
	ticker := time.NewTicker(s.pingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.queue.notify:
			for {
				frame, ok := s.queue.tryPop()
				if !ok {
					break
				}
				s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
				if err := s.conn.WriteMessage(websocket.TextMessage, frame.Data); err != nil {
					logger.Debug("session %s: write: %v", s.id, err)
					return
				}
			}
			if s.queue.isClosed() {
				s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
		}
	}
}
