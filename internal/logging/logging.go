// Package logging is a thin wrapper of zap logging library.
package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var root = func() *zap.Logger {
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		os.Stderr,
		zap.DebugLevel,
	)
	return zap.New(core)
}()

// Named creates a named logger without level configuration.
func Named(pkg string) *zap.Logger {
	return root.Named(pkg)
}

// New creates a named logger whose level is taken from the environment.
//
// By convention, this should appear in the same .go file as the package docstring:
//
//	var logger = logging.New("Foo")
func New(pkg string) *zap.Logger {
	return Named(pkg).WithOptions(zap.IncreaseLevel(zap.NewAtomicLevelAt(EnvLevel(pkg))))
}

// EnvLevel returns the configured level of a package. SMR_LOG_<pkg> wins over
// SMR_LOG, and the default is info.
func EnvLevel(pkg string) zapcore.Level {
	v, ok := os.LookupEnv("SMR_LOG_" + strings.ToUpper(pkg))
	if !ok {
		v = os.Getenv("SMR_LOG")
	}
	return ParseLevel(v)
}

// ParseLevel maps the first letter of input to a level: V or D is debug,
// I is info, W is warn, E is error, F or N is dpanic. Anything else is info.
func ParseLevel(input string) zapcore.Level {
	if len(input) == 0 {
		return zapcore.InfoLevel
	}
	switch input[0] {
	case 'V', 'D', 'v', 'd':
		return zapcore.DebugLevel
	case 'I', 'i':
		return zapcore.InfoLevel
	case 'W', 'w':
		return zapcore.WarnLevel
	case 'E', 'e':
		return zapcore.ErrorLevel
	case 'F', 'N', 'f', 'n':
		return zapcore.DPanicLevel
	}
	return zapcore.InfoLevel
}
