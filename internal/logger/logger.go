package logger

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	sugar = zap.NewNop().Sugar()

	DebugEnabled = false

	logFile *os.File
)

// InitLogging sets up logging based on configuration.
// Without debug mode every call is a no-op.
func InitLogging(debugMode bool, logPath string) error {
	DebugEnabled = debugMode

	if !DebugEnabled || logPath == "" {
		sugar = zap.NewNop().Sugar()
		return nil
	}

	err := os.MkdirAll(filepath.Dir(logPath), 0o755)
	if err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	logFile = f
	sugar = newLogger(zapcore.AddSync(f)).Sugar()

	return nil
}

func newLogger(ws zapcore.WriteSyncer) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), ws, zapcore.DebugLevel)

	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
}

// Close flushes buffered entries and closes the log file if open.
func Close() {
	_ = sugar.Sync()
	sugar = zap.NewNop().Sugar()

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

func Infof(format string, v ...interface{}) {
	sugar.Infof(format, v...)
}

// Errorf logs an error message to the file if debug mode is enabled.
func Errorf(format string, v ...interface{}) {
	sugar.Errorf(format, v...)
}

func Debugf(format string, v ...interface{}) {
	sugar.Debugf(format, v...)
}

func Warnf(format string, v ...interface{}) {
	sugar.Warnf(format, v...)
}
