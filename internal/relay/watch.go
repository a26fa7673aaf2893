package relay

import (
	"github.com/Khushal-Kathad/Thryve-sub001/internal/remote"
	"github.com/gofiber/contrib/websocket"
	"go.uber.org/zap"
)

// handleWatch GET /ws?room=a&room=b streams room changes as JSON frames.
func (s *Server) handleWatch(conn *websocket.Conn) {
	rooms := make(map[string]bool)
	ids, _ := conn.Locals("rooms").([]string)
	for _, r := range ids {
		rooms[r] = true
	}

	events, unsub := s.bus.Subscribe(kindRoomChange, 64)
	defer unsub()

	// Reads only detect the peer going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.logger.Debug("watcher connected", zap.Int("rooms", len(rooms)))
	for {
		select {
		case evt := <-events:
			change, ok := evt.Payload.(remote.Change)
			if !ok || !rooms[change.RoomID] {
				continue
			}
			if err := conn.WriteJSON(change); err != nil {
				s.logger.Debug("watcher write failed", zap.Error(err))
				return
			}
		case <-closed:
			s.logger.Debug("watcher disconnected")
			return
		}
	}
}
