package security

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"syncrelay/internal/constants"
)

// Severity grades audit events.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
)

type AuditEvent struct {
	EventType string
	IP        string
	SessionID string
	ClientID  string
	Details   string
	Severity  Severity
}

// AuditLogger writes security relevant events to a named logger, at most
// MaxAuditLogsPerMinute per minute.
type AuditLogger struct {
	log   *zap.Logger
	clock clockwork.Clock

	mu          sync.Mutex
	count       int
	windowStart time.Time
	suppressed  int
}

func NewAuditLogger(log *zap.Logger, clock clockwork.Clock) *AuditLogger {
	return &AuditLogger{
		log:         log.Named("audit"),
		clock:       clock,
		windowStart: clock.Now(),
	}
}

// Log records event unless the per-minute budget is spent. It reports
// whether the event was written.
func (al *AuditLogger) Log(event AuditEvent) bool {
	al.mu.Lock()
	now := al.clock.Now()
	if now.Sub(al.windowStart) >= time.Minute {
		if al.suppressed > 0 {
			al.log.Warn("audit events suppressed", zap.Int("count", al.suppressed))
		}
		al.windowStart = now
		al.count = 0
		al.suppressed = 0
	}
	if al.count >= constants.MaxAuditLogsPerMinute {
		al.suppressed++
		al.mu.Unlock()
		return false
	}
	al.count++
	al.mu.Unlock()

	level := zapcore.InfoLevel
	if event.Severity == SeverityWarning {
		level = zapcore.WarnLevel
	}
	fields := []zap.Field{zap.String("event", event.EventType), zap.String("ip", event.IP)}
	if event.SessionID != "" {
		fields = append(fields, zap.String("session", event.SessionID))
	}
	if event.ClientID != "" {
		fields = append(fields, zap.String("client", event.ClientID))
	}
	al.log.Log(level, event.Details, fields...)
	return true
}

func (al *AuditLogger) LogConnectionLimit(ip string) {
	al.Log(AuditEvent{
		EventType: "connection_limit",
		IP:        ip,
		Details:   "Connection limit exceeded",
		Severity:  SeverityWarning,
	})
}

func (al *AuditLogger) LogInvalidRequest(ip, path, reason string) {
	al.Log(AuditEvent{
		EventType: "invalid_request",
		IP:        ip,
		Details:   "Invalid request to " + path + ": " + reason,
		Severity:  SeverityWarning,
	})
}

func (al *AuditLogger) LogSessionCreated(ip, sessionID string) {
	al.Log(AuditEvent{
		EventType: "session_create",
		IP:        ip,
		SessionID: sessionID,
		Details:   "Session created",
		Severity:  SeverityInfo,
	})
}

func (al *AuditLogger) LogSessionDeleted(ip, sessionID string) {
	al.Log(AuditEvent{
		EventType: "session_delete",
		IP:        ip,
		SessionID: sessionID,
		Details:   "Session deleted",
		Severity:  SeverityInfo,
	})
}

func (al *AuditLogger) LogJoin(ip, sessionID, clientID string) {
	al.Log(AuditEvent{
		EventType: "participant_join",
		IP:        ip,
		SessionID: sessionID,
		ClientID:  clientID,
		Details:   "Participant connected via WebSocket",
		Severity:  SeverityInfo,
	})
}

func (al *AuditLogger) LogLeave(ip, sessionID, clientID string) {
	al.Log(AuditEvent{
		EventType: "participant_leave",
		IP:        ip,
		SessionID: sessionID,
		ClientID:  clientID,
		Details:   "Participant disconnected",
		Severity:  SeverityInfo,
	})
}
