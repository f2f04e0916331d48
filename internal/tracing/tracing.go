// Package tracing installs a Jaeger tracer as the global opentracing
// tracer. The REST client creates its spans on the global tracer.
package tracing

import (
	"fmt"
	"io"

	"github.com/opentracing/opentracing-go"
	jaegercfg "github.com/uber/jaeger-client-go/config"
	"github.com/uber/jaeger-lib/metrics/prometheus"
	"go.uber.org/zap"
)

// Start reads the JAEGER_* environment, installs the tracer globally and
// returns its closer. serviceName is used when JAEGER_SERVICE_NAME is
// unset.
func Start(serviceName string, logger *zap.Logger) (io.Closer, error) {
	cfg, err := jaegercfg.FromEnv()
	if err != nil {
		return nil, fmt.Errorf("could not parse Jaeger env vars: %w", err)
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = serviceName
	}

	tracer, closer, err := cfg.NewTracer(
		jaegercfg.Logger(&logAdapter{logger.Named("jaeger")}),
		jaegercfg.Metrics(prometheus.New()),
	)
	if err != nil {
		return nil, fmt.Errorf("could not initialize jaeger tracer: %w", err)
	}

	opentracing.SetGlobalTracer(tracer)
	return closer, nil
}
