// Package logger builds the zap loggers used by the relay and the client.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"syncrelay/internal/constants"
)

// Config selects the console level and an optional JSON file sink.
type Config struct {
	Level string `mapstructure:"log_level"`
	// Dev switches the console encoder to the colored development layout.
	Dev bool `mapstructure:"log_dev"`
	// File, when set, tees every entry as JSON lines into LogDir()/<File>.log.
	File string `mapstructure:"log_file"`
}

// Logger wraps the zap logger together with the file it may be writing to.
type Logger struct {
	*zap.Logger
	file *os.File
}

// New builds a console logger writing to w, plus the file sink if configured.
func New(cfg Config, w io.Writer) (*Logger, error) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if cfg.Level != "" {
		lvl, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		level = lvl
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if cfg.Dev {
		encCfg = zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(w), level),
	}

	l := &Logger{}
	if cfg.File != "" {
		f, err := openLogFile(cfg.File)
		if err != nil {
			return nil, err
		}
		l.file = f
		fileCfg := zap.NewProductionEncoderConfig()
		fileCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileCfg), zapcore.AddSync(f), level))
	}

	l.Logger = zap.New(zapcore.NewTee(cores...))
	return l, nil
}

// Path returns the file sink location, or "" when logging to the console only.
func (l *Logger) Path() string {
	if l.file != nil {
		return l.file.Name()
	}
	return ""
}

func (l *Logger) Close() error {
	l.Logger.Sync()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

func openLogFile(name string) (*os.File, error) {
	dir, err := LogDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get log directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s.log", name))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}

// LogDir is the per-user log directory for the current OS.
func LogDir() (string, error) {
	if runtime.GOOS != "windows" && runtime.GOOS != "darwin" {
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, constants.AppName, "logs"), nil
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(home, "AppData", "Local", constants.AppName, "logs"), nil
	case "darwin":
		return filepath.Join(home, "Library", "Logs", constants.AppName), nil
	default:
		return filepath.Join(home, ".local", "share", constants.AppName, "logs"), nil
	}
}
