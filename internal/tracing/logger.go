package tracing

import (
	"fmt"

	"github.com/uber/jaeger-client-go"
	"go.uber.org/zap"
)

var _ jaeger.Logger = (*logAdapter)(nil)

type logAdapter struct {
	*zap.Logger
}

func (l *logAdapter) Infof(msg string, args ...any) {
	l.Logger.Info(fmt.Sprintf(msg, args...))
}

func (l *logAdapter) Error(msg string) {
	l.Logger.Error(msg)
}
