package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/allbin/go-devlink"
	"github.com/allbin/go-devlink/frame"
)

const (
	pingInterval = 20 * time.Second
	writeWait    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(_ *http.Request) bool { return true },
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	State    string    `json:"state"`
	Port     string    `json:"port,omitempty"`
	Since    time.Time `json:"since"`
	Attempts int       `json:"attempts"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	snap := s.link.Status()
	writeJSON(w, http.StatusOK, StatusResponse{
		State:    snap.State.String(),
		Port:     snap.Target,
		Since:    snap.Since,
		Attempts: snap.Attempts,
	})
}

// handleSend forwards one JSON object to the device.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	msg, err := frame.Decode(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "body must be a single JSON object")
		return
	}

	switch err := s.link.Send(r.Context(), msg); {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, devlink.ErrNotConnected):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, devlink.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, frame.ErrEncode):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.log.Warn("send failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

// handleEvents streams every decoded message as a WebSocket text frame.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	sub := s.link.Subscribe()
	defer sub.Close()

	// The client never sends anything we use, but control frames are
	// only processed while reading.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	s.log.Debug("websocket client connected", zap.String("remote", r.RemoteAddr))
	for {
		select {
		case msg, ok := <-sub.C():
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "link stopped"),
					time.Now().Add(writeWait))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				s.log.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-closed:
			s.log.Debug("websocket client disconnected", zap.String("remote", r.RemoteAddr))
			return
		case <-s.done:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		}
	}
}
