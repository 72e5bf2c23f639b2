package utilities

import (
	"fmt"
	"os"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Level        string        `env:"LEVEL"`
	Dev          bool          `env:"DEV"`
	File         string        `env:"FILE"`
	MaxAge       time.Duration `env:"MAX_AGE" envDefault:"168h"`
	RotationTime time.Duration `env:"ROTATION_TIME" envDefault:"24h"`
}

func levelFromString(l string) zapcore.Level {
	switch l {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Init initializes and returns a *zap.Logger.
// When cfg.File is set, JSON entries are also written to a file rotated by time.
func Init(cfg Config) (*zap.Logger, error) {
	lvlName := cfg.Level
	if lvlName == "" && cfg.Dev {
		lvlName = "debug"
	}
	lvl := levelFromString(lvlName)
	if cfg.Dev {
		c := zap.NewDevelopmentConfig()
		c.Level = zap.NewAtomicLevelAt(lvl)
		return c.Build()
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	sink := zapcore.AddSync(os.Stdout)
	if cfg.File != "" {
		rotator, err := newRotator(cfg)
		if err != nil {
			return nil, err
		}
		sink = zapcore.NewMultiWriteSyncer(sink, zapcore.AddSync(rotator))
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), sink, lvl)
	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	return zap.New(core, opts...), nil
}

func newRotator(cfg Config) (*rotatelogs.RotateLogs, error) {
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = 7 * 24 * time.Hour
	}
	rotation := cfg.RotationTime
	if rotation <= 0 {
		rotation = 24 * time.Hour
	}
	rl, err := rotatelogs.New(
		cfg.File+".%Y%m%d",
		rotatelogs.WithLinkName(cfg.File),
		rotatelogs.WithMaxAge(maxAge),
		rotatelogs.WithRotationTime(rotation),
	)
	if err != nil {
		return nil, fmt.Errorf("init log rotation: %w", err)
	}
	return rl, nil
}
