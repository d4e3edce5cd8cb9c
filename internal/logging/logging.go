package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	Level       string // "debug","info","warn","error"
	Dir         string // log directory; file is <level>_<date>.log unless FilePath is set
	FilePath    string // explicit log file, overrides Dir
	MaxSizeMB   int    // per file
	MaxBackups  int
	MaxAgeDays  int
	JSON        bool // console encoder if false
	Console     bool // also log to stdout
	Development bool // zap development (stacktraces for warn+)
}

// L is a no-op logger until Init runs, so packages can log from tests.
var L = zap.NewNop()
var S = L.Sugar()

var levels = map[string]zapcore.Level{
	"debug":   zap.DebugLevel,
	"info":    zap.InfoLevel,
	"warn":    zap.WarnLevel,
	"warning": zap.WarnLevel,
	"error":   zap.ErrorLevel,
}

func parseLevel(s string) zapcore.Level {
	if l, ok := levels[s]; ok {
		return l
	}
	return zap.InfoLevel
}

// ResolveFilePath resolves the log file for cfg, or "" when file logging is off.
func (cfg Config) ResolveFilePath(now time.Time) string {
	if cfg.FilePath != "" {
		return cfg.FilePath
	}
	if cfg.Dir == "" {
		return ""
	}
	level := parseLevel(cfg.Level).String()
	return filepath.Join(cfg.Dir, fmt.Sprintf("%s_%s.log", level, now.Format("2006-01-02")))
}

func jsonEncoder() zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "ts"
	ec.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)
	ec.EncodeLevel = zapcore.LowercaseLevelEncoder
	return zapcore.NewJSONEncoder(ec)
}

func consoleEncoder() zapcore.Encoder {
	ec := zap.NewDevelopmentEncoderConfig()
	ec.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	return zapcore.NewConsoleEncoder(ec)
}

func rotating(cfg Config, path string) zapcore.WriteSyncer {
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    orDefault(cfg.MaxSizeMB, 100),
		MaxBackups: orDefault(cfg.MaxBackups, 5),
		MaxAge:     orDefault(cfg.MaxAgeDays, 14),
		Compress:   true,
	})
}

func orDefault(v, d int) int {
	if v <= 0 {
		return d
	}
	return v
}

// Init replaces L and S with a logger teed to the rotated log file and,
// when enabled, stdout. The returned func flushes buffered entries.
func Init(cfg Config) (func(), error) {
	level := parseLevel(cfg.Level)
	var cores []zapcore.Core

	if path := cfg.ResolveFilePath(time.Now()); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return func() {}, fmt.Errorf("create log directory: %w", err)
		}
		// dated files under Dir are always JSON
		enc := jsonEncoder()
		if !cfg.JSON && cfg.FilePath != "" {
			enc = consoleEncoder()
		}
		cores = append(cores, zapcore.NewCore(enc, rotating(cfg, path), level))
	}

	if cfg.Console {
		enc := consoleEncoder()
		if cfg.JSON {
			enc = jsonEncoder()
		}
		cores = append(cores, zapcore.NewCore(enc, zapcore.Lock(os.Stdout), level))
	}

	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel)}
	if cfg.Development {
		opts = []zap.Option{zap.AddCaller(), zap.Development(), zap.AddStacktrace(zap.WarnLevel)}
	}

	L = zap.New(zapcore.NewTee(cores...), opts...).With(zap.String("service", "chatsnap"))
	S = L.Sugar()

	return func() { _ = L.Sync() }, nil
}

func With(fields ...zap.Field) *zap.Logger {
	return L.With(fields...)
}
