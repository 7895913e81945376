package logger

import (
	"fmt"
	"log"
	"os"

	"go.uber.org/zap"
)

var Logger *zap.SugaredLogger

// Init builds the global logger. level is optional ("debug", "info", "warn",
// "error"); an unparsable level keeps the config default.
func Init(dev bool, level string) {
	cfg := zap.NewProductionConfig()
	if dev {
		cfg = zap.NewDevelopmentConfig()
	}

	if level != "" {
		if lvl, err := zap.ParseAtomicLevel(level); err == nil {
			cfg.Level = lvl
		} else {
			log.Printf("ignoring log level %q: %v", level, err)
		}
	}

	UpdateLogger(&cfg)
}

func UpdateLogger(config *zap.Config) {
	defaultConfig := zap.NewProductionConfig()
	defaultConfig.OutputPaths = []string{"tablespec.log"}
	if config == nil {
		config = &defaultConfig
	}

	logger, err := config.Build()
	if err != nil {
		log.Print(err)
		return
	}

	Logger = logger.Sugar()
	Info("TableSpec Logger initialized")
}

// Sync flushes buffered entries; call it before the process exits.
func Sync() {
	if Logger != nil {
		_ = Logger.Sync()
	}
}

func Info(template string, args ...interface{}) {
	if Logger == nil {
		log.Printf(template, args...)
		return
	}
	Logger.Infow(fmt.Sprintf(template, args...), "process_id", os.Getpid())
}

func Warn(template string, args ...interface{}) {
	if Logger == nil {
		log.Printf(template, args...)
		return
	}
	Logger.Warnw(fmt.Sprintf(template, args...), "process_id", os.Getpid())
}

func Error(template string, args ...interface{}) {
	if Logger == nil {
		log.Printf(template, args...)
		return
	}
	Logger.Errorw(fmt.Sprintf(template, args...), "process_id", os.Getpid())
}

func Debug(template string, args ...interface{}) {
	if Logger == nil {
		log.Printf(template, args...)
		return
	}
	Logger.Debugw(fmt.Sprintf(template, args...), "process_id", os.Getpid())
}

// Infow logs a message with structured key/value pairs, used by the request logger.
func Infow(msg string, keysAndValues ...interface{}) {
	if Logger == nil {
		log.Println(append([]interface{}{msg}, keysAndValues...)...)
		return
	}
	Logger.Infow(msg, append(keysAndValues, "process_id", os.Getpid())...)
}

func Warnw(msg string, keysAndValues ...interface{}) {
	if Logger == nil {
		log.Println(append([]interface{}{msg}, keysAndValues...)...)
		return
	}
	Logger.Warnw(msg, append(keysAndValues, "process_id", os.Getpid())...)
}

func Errorw(msg string, keysAndValues ...interface{}) {
	if Logger == nil {
		log.Println(append([]interface{}{msg}, keysAndValues...)...)
		return
	}
	Logger.Errorw(msg, append(keysAndValues, "process_id", os.Getpid())...)
}

// Fatal logs at fatal level and exits the process.
func Fatal(template string, args ...interface{}) {
	if Logger == nil {
		log.Fatalf(template, args...)
	}
	Logger.Fatalw(fmt.Sprintf(template, args...), "process_id", os.Getpid())
}
