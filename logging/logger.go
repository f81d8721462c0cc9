// Package logging wraps go.uber.org/zap with the fields this server attaches
// at nearly every call site (room_id, connection_id, username), following the
// structured-logging package shape used elsewhere in the example pack.
package logging

import (
	"sync"

	"go.uber.org/zap"
)

var (
	logger *zap.Logger
	once   sync.Once
)

// Initialize builds the global logger. development selects a human-readable
// console encoder; otherwise a JSON production encoder is used.
func Initialize(development bool) error {
	var err error
	once.Do(func() {
		var cfg zap.Config
		if development {
			cfg = zap.NewDevelopmentConfig()
		} else {
			cfg = zap.NewProductionConfig()
		}
		cfg.OutputPaths = []string{"stdout"}
		cfg.ErrorOutputPaths = []string{"stderr"}
		logger, err = cfg.Build(zap.AddCallerSkip(1))
	})
	return err
}

// L returns the global logger, falling back to a development logger if
// Initialize was never called (e.g. in tests).
func L() *zap.Logger {
	if logger == nil {
		l, _ := zap.NewDevelopment()
		return l
	}
	return logger
}

func Info(msg string, fields ...zap.Field)  { L().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { L().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { L().Error(msg, fields...) }
func Fatal(msg string, fields ...zap.Field) { L().Fatal(msg, fields...) }

func RoomField(roomID string) zap.Field             { return zap.String("room_id", roomID) }
func ConnField(connectionID string) zap.Field       { return zap.String("connection_id", connectionID) }
func UserField(username string) zap.Field           { return zap.String("username", username) }
func ActionField(action string) zap.Field           { return zap.String("action", action) }
