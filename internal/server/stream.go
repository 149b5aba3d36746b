package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ssd-technologies/agentpulse/internal/ledger"
)

const writeWait = 10 * time.Second

// StreamMessage is the frame sent to stream clients.
type StreamMessage struct {
	Type    string `json:"type"` // "hello", "log"
	Payload any    `json:"payload"`
}

// HelloPayload opens every stream.
type HelloPayload struct {
	ClientID string `json:"client_id"`
	Seq      uint64 `json:"seq"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleStream upgrades to WebSocket and forwards committed logs in
// sequence order. With ?since=N the stream first replays logs after N.
// Logs dropped by a slow subscription are recovered from chain history, so
// clients see every sequence number exactly once.
func (s *Server) handleStream(c *gin.Context) {
	chain := s.node.Chain
	var since *uint64
	if q := c.Query("since"); q != "" {
		n, err := strconv.ParseUint(q, 10, 64)
		if err != nil {
			writeError(c, http.StatusBadRequest, "since must be a log sequence number")
			return
		}
		since = &n
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade", zap.Error(err))
		return
	}
	defer conn.Close()

	clientID := uuid.New().String()
	log := s.logger.With(zap.String("client_id", clientID))
	sub := chain.Subscribe(s.cfg.StreamBuffer)
	defer sub.Close()

	last := chain.LastSeq()
	if since != nil && *since < last {
		last = *since
	}
	if err := s.send(conn, StreamMessage{Type: "hello", Payload: HelloPayload{ClientID: clientID, Seq: last}}); err != nil {
		return
	}
	log.Info("stream client connected", zap.Uint64("seq", last))
	defer log.Info("stream client disconnected")

	replay := func() bool {
		for _, l := range chain.LogsSince(last) {
			if err := s.sendLog(conn, l); err != nil {
				return false
			}
			last = l.Seq
		}
		return true
	}
	if !replay() {
		return
	}

	// The read side only watches for the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Debug("websocket read", zap.Error(err))
				}
				return
			}
		}
	}()

	var dropped uint64
	for {
		select {
		case <-gone:
			return
		case <-s.closing:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		case l, ok := <-sub.C:
			if !ok {
				return
			}
			if d := sub.Dropped(); d != dropped || l.Seq > last+1 {
				dropped = d
				log.Debug("stream gap, replaying", zap.Uint64("from", last))
				if !replay() {
					return
				}
				continue
			}
			if l.Seq <= last {
				continue
			}
			if err := s.sendLog(conn, l); err != nil {
				return
			}
			last = l.Seq
		}
	}
}

func (s *Server) sendLog(conn *websocket.Conn, l ledger.Log) error {
	return s.send(conn, StreamMessage{Type: "log", Payload: viewLog(l)})
}

func (s *Server) send(conn *websocket.Conn, msg StreamMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(msg); err != nil {
		s.logger.Debug("websocket write", zap.Error(err))
		return err
	}
	return nil
}
