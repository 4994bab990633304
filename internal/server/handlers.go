package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"syncrelay/internal/constants"
	"syncrelay/internal/protocol"
	"syncrelay/internal/security"
	"syncrelay/internal/session"
	"syncrelay/internal/transport"
)

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	session.Stats
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, protocol.ErrorData{Error: msg})
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Version: constants.Version,
		Stats:   s.registry.Stats(),
	})
}

func (s *Server) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	clientIP := s.ips.ClientIP(r)

	var req protocol.CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.audit.LogInvalidRequest(clientIP, r.URL.Path, "malformed body")
		writeError(w, http.StatusBadRequest, constants.MsgInvalidJSON)
		return
	}
	if req.SessionID != "" && !security.ValidateSessionID(req.SessionID) {
		writeError(w, http.StatusBadRequest, constants.MsgInvalidSessionID)
		return
	}

	var ttl time.Duration
	if req.TTL != "" {
		d, err := time.ParseDuration(req.TTL)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, constants.MsgInvalidTTL)
			return
		}
		ttl = d
	}

	sess, err := s.registry.Create(session.CreateOptions{
		ID:       req.SessionID,
		TTL:      ttl,
		Metadata: req.Metadata,
	})
	switch {
	case errors.Is(err, session.ErrSessionExists):
		writeError(w, http.StatusConflict, constants.MsgSessionExists)
		return
	case errors.Is(err, session.ErrInvalidTTL):
		writeError(w, http.StatusBadRequest, constants.MsgInvalidTTL)
		return
	case err != nil:
		s.log.Error("create session", zap.Error(err))
		writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}

	s.audit.LogSessionCreated(clientIP, sess.ID)
	writeJSON(w, http.StatusCreated, protocol.CreateSessionResponse{
		SessionID: sess.ID,
		ExpiresAt: sess.ExpiresAt().UnixMilli(),
	})
}

func (s *Server) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.List())
}

func (s *Server) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, constants.MsgSessionNotFound)
		return
	}
	writeJSON(w, http.StatusOK, sess.Info())
}

func (s *Server) HandleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.registry.Delete(id); err != nil {
		writeError(w, http.StatusNotFound, constants.MsgSessionNotFound)
		return
	}
	s.audit.LogSessionDeleted(s.ips.ClientIP(r), id)
	w.WriteHeader(http.StatusNoContent)
}

// HandleWebSocket upgrades the request and attaches the connection to the
// session named by the session query parameter until the socket closes.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	clientIP := s.ips.ClientIP(r)

	sessionID := r.URL.Query().Get(constants.SessionQueryParam)
	if sessionID == "" {
		s.metrics.ConnectionRejected("missing_session")
		http.Error(w, constants.MsgMissingSession, http.StatusBadRequest)
		return
	}
	if !security.ValidateSessionID(sessionID) {
		s.metrics.ConnectionRejected("invalid_session")
		s.audit.LogInvalidRequest(clientIP, r.URL.Path, "invalid session id")
		http.Error(w, constants.MsgInvalidSessionID, http.StatusBadRequest)
		return
	}

	if !s.connLimiter.TryConnect(clientIP) {
		s.metrics.ConnectionRejected("per_ip_limit")
		s.audit.LogConnectionLimit(clientIP)
		http.Error(w, constants.MsgConnLimitExceeded, http.StatusTooManyRequests)
		return
	}
	defer s.connLimiter.Disconnect(clientIP)

	// Refuse before upgrading when possible. Join below still enforces the
	// limit for concurrent upgrades.
	if sess, err := s.registry.Get(sessionID); err == nil && len(sess.Participants()) >= s.cfg.Session.MaxParticipants {
		s.metrics.ConnectionRejected("session_full")
		http.Error(w, constants.MsgSessionFull, http.StatusConflict)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", zap.String("ip", clientIP), zap.Error(err))
		return
	}
	conn := transport.NewWSConn(ws)

	p, err := s.registry.Join(sessionID, conn)
	if err != nil {
		s.metrics.ConnectionRejected("session_full")
		conn.WriteMessage(protocol.MustEncode(protocol.NewErrorMessage(constants.MsgSessionFull)))
		conn.Close()
		return
	}
	conn.SetPongHandler(func(string) error {
		p.MarkAlive()
		return nil
	})

	s.audit.LogJoin(clientIP, sessionID, p.ClientID)
	s.registry.Serve(p)
	s.audit.LogLeave(clientIP, sessionID, p.ClientID)
}
