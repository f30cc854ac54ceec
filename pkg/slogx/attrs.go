package slogx

import (
	"fmt"
	"log/slog"
)

// Attribute keys shared by every package that logs.
const (
	KeyLoggerName = "logger"
	KeySession    = "session"
	KeyModel      = "model"
	KeyPhase      = "phase"
	KeyHistoryID  = "history_id"
)

// Error returns an attribute with the key "error" and the error's message as the value.
// A nil error is logged as an empty string.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}

// Stringer creates an attribute from the string representation of value.
func Stringer(key string, value fmt.Stringer) slog.Attr {
	return slog.String(key, value.String())
}

// LoggerName names the component emitting the record.
func LoggerName(name string) slog.Attr {
	return slog.String(KeyLoggerName, name)
}

func Session(id string) slog.Attr {
	return slog.String(KeySession, id)
}

func Model(key string) slog.Attr {
	return slog.String(KeyModel, key)
}

func Phase(phase fmt.Stringer) slog.Attr {
	return Stringer(KeyPhase, phase)
}

func HistoryID(id string) slog.Attr {
	return slog.String(KeyHistoryID, id)
}
