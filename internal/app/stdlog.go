package app

import (
	"log"
	"strings"

	"github.com/rs/zerolog"
)

type stdWriter struct {
	logger zerolog.Logger
}

func (w stdWriter) Write(p []byte) (int, error) {
	w.logger.Warn().Msg(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// NewStdLogger adapts logger for APIs that take a *log.Logger, such as
// http.Server.ErrorLog.
func NewStdLogger(logger zerolog.Logger) *log.Logger {
	return log.New(stdWriter{logger: logger}, "", 0)
}
