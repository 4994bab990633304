package constants

import "time"

const (
	AppName = "syncrelay"
	Version = "0.3.0"
)

// Network defaults
const (
	DefaultAddr       = ":8080"
	DefaultServerURL  = "ws://localhost:8080/ws"
	WSBufferSize      = 32768
	MaxWSMessageSize  = 1 << 20 // 1MB per frame
	WriteTimeout      = 10 * time.Second
	ReadHeaderTimeout = 10 * time.Second
	IdleTimeout       = 120 * time.Second
	ShutdownTimeout   = 5 * time.Second
	SendBufferSize    = 64
)

// Session settings
const (
	SessionDuration    = time.Hour
	MinSessionDuration = time.Minute
	MaxSessionDuration = 24 * time.Hour
	PingInterval       = 30 * time.Second
	CleanupInterval    = 30 * time.Second
	EmptySessionGrace  = 2 * time.Minute
	MaxParticipants    = 2
	MaxConfigBodySize  = 64 * 1024
)

// Client connection defaults
const (
	DefaultAutoReconnect        = true
	DefaultMaxReconnectAttempts = 5
	DefaultReconnectDelay       = 2 * time.Second
	DefaultConnectionTimeout    = 10 * time.Second
	DefaultHandshakeTimeout     = 5 * time.Second
	DefaultTransferTimeout      = 30 * time.Second
)

// Rate limiting
const (
	MaxConnectionsPerIP   = 10
	MaxAuditLogsPerMinute = 100
	DefaultRateLimit      = 50 // frames per second per participant
	DefaultRateBurst      = 100
)

// API endpoints
const (
	EndpointSessions  = "/sessions"
	EndpointWebSocket = "/ws"
	EndpointHealth    = "/healthz"
	EndpointMetrics   = "/metrics"
	SessionQueryParam = "session"
)

// Environment
const (
	EnvPrefix = "SYNCRELAY"
	EnvFile   = ".env"
)

// Messages
const (
	MsgInvalidJSON       = "Invalid JSON"
	MsgMissingSession    = "Missing session parameter"
	MsgInvalidSessionID  = "Invalid session id"
	MsgSessionNotFound   = "Session not found or expired"
	MsgSessionExists     = "Session already exists"
	MsgSessionFull       = "Session is full"
	MsgConnLimitExceeded = "Connection limit exceeded"
	MsgRateLimitExceeded = "Rate limit exceeded"
	MsgHandshakeRequired = "Protocol handshake required"
	MsgVersionMismatch   = "Unsupported protocol version"
	MsgInvalidTTL        = "Invalid ttl"
)
