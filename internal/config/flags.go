package config

import (
	"github.com/spf13/pflag"
)

// AddServerFlags registers the relay flags with def as their defaults.
func AddServerFlags(fs *pflag.FlagSet, def ServerConfig) {
	fs.String("addr", def.Addr, "listen address")
	fs.Int("max-conns-per-ip", def.MaxConnsPerIP, "concurrent websocket connections allowed per client IP")
	fs.StringSlice("allowed-origins", def.AllowedOrigins, "origins allowed to call the session API (empty allows any)")
	fs.StringSlice("trusted-proxies", def.TrustedProxies, "proxy CIDRs whose X-Forwarded-For is honored")

	o := def.Session
	fs.Duration("session-timeout", o.SessionTimeout, "default session lifetime")
	fs.Duration("min-session-timeout", o.MinSessionTimeout, "shortest lifetime a caller may request")
	fs.Duration("max-session-timeout", o.MaxSessionTimeout, "longest lifetime a caller may request")
	fs.Duration("ping-interval", o.PingInterval, "idle time before participants are pinged")
	fs.Duration("cleanup-interval", o.CleanupInterval, "how often expired sessions are swept")
	fs.Duration("empty-grace", o.EmptyGrace, "how long an emptied session is kept")
	fs.Int("max-participants", o.MaxParticipants, "participants allowed per session")
	fs.Float64("rate-limit", o.RateLimit, "inbound frames per second per participant (0 disables)")
	fs.Int("rate-burst", o.RateBurst, "inbound frame burst per participant")
	fs.Int("send-buffer", o.SendBuffer, "outbound frames queued per participant")

	addLogFlags(fs, def.Log.Level)
}

// AddClientFlags registers the peer flags with def as their defaults.
func AddClientFlags(fs *pflag.FlagSet, def ClientConfig) {
	fs.String("url", def.URL, "relay websocket URL")
	fs.String("session", def.SessionID, "session id to join")
	fs.Bool("auto-reconnect", def.AutoReconnect, "reconnect after an unexpected drop")
	fs.Int("max-reconnect-attempts", def.MaxReconnectAttempts, "reconnect attempts before giving up")
	fs.Duration("reconnect-delay", def.ReconnectDelay, "delay between reconnect attempts")
	fs.Duration("connection-timeout", def.ConnectionTimeout, "transport open timeout")
	fs.Duration("handshake-timeout", def.HandshakeTimeout, "protocol handshake timeout")
	fs.Duration("transfer-timeout", def.TransferTimeout, "how long an offer or request of control waits for an answer (0 waits forever)")
	fs.Bool("legacy-role-messages", def.LegacyRoleMessages, "also emit lock_screen/unlock_screen")
	fs.Bool("skip-tls-verify", def.SkipTLSVerify, "accept any relay certificate")
	fs.Bool("qr", def.QR, "print the join URL as a QR code")

	addLogFlags(fs, def.Log.Level)
	fs.String("log-file", "", "also write JSON logs to <log dir>/<name>.log")
}

func addLogFlags(fs *pflag.FlagSet, level string) {
	fs.String("log-level", level, "log level (debug, info, warn, error)")
	fs.Bool("log-dev", false, "human friendly colored log output")
}
