package logger

import (
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Format selects the zap encoder.
type Format string

const (
	// FormatConsole is the human-readable encoder.
	FormatConsole Format = "CONSOLE"
	// FormatJSON is the structured JSON encoder.
	FormatJSON Format = "JSON"
)

// Component names used with For.
const (
	ComponentEngine    = "Engine"
	ComponentCollector = "Collector"
	ComponentMatcher   = "Matcher"
	ComponentDenyList  = "DenyList"
	ComponentLoader    = "Loader"
	ComponentServer    = "Server"
	ComponentCLI       = "CLI"
)

var (
	mu          sync.Mutex
	initialized bool
)

func parseLevel(level string) zapcore.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return zapcore.DebugLevel
	case "WARN":
		return zapcore.WarnLevel
	case "ERROR":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func timeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006-01-02 15:04:05 MST"))
}

// New builds a zap logger writing to stderr. Stdout is reserved for MCP JSON-RPC.
func New(level string, format Format) *zap.Logger {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "component",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if strings.ToUpper(string(format)) == string(FormatJSON) {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoderConfig.EncodeTime = timeEncoder
		encoderConfig.ConsoleSeparator = " | "
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stderr), zap.NewAtomicLevelAt(parseLevel(level)))
	return zap.New(core, zap.AddCaller())
}

// Initialize installs the global logger. Environment variables LOGGING_LEVEL and
// LOGGING_FORMAT override the given values. Later calls replace the logger.
func Initialize(level string, format Format) {
	if v := os.Getenv("LOGGING_LEVEL"); v != "" {
		level = v
	}
	if v := os.Getenv("LOGGING_FORMAT"); v != "" {
		format = Format(strings.ToUpper(v))
	}

	mu.Lock()
	defer mu.Unlock()
	zap.ReplaceGlobals(New(level, format))
	initialized = true
}

// For returns a named sugared logger for a component, initializing the
// global logger with defaults on first use.
func For(component string) *zap.SugaredLogger {
	mu.Lock()
	ready := initialized
	mu.Unlock()
	if !ready {
		Initialize("INFO", FormatConsole)
	}
	return zap.S().Named(component)
}

// Sync flushes any buffered log entries.
func Sync() error {
	return zap.L().Sync()
}
