package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/chzyer/readline"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nordicopen/pyeasee/internal/logging"
	"github.com/nordicopen/pyeasee/internal/tracing"
	"github.com/nordicopen/pyeasee/pkg/bridge"
	"github.com/nordicopen/pyeasee/pkg/config"
	"github.com/nordicopen/pyeasee/pkg/log"
	"github.com/nordicopen/pyeasee/pkg/rest"
	"github.com/nordicopen/pyeasee/pkg/stream"
	"github.com/nordicopen/pyeasee/pkg/subscription"
	"github.com/nordicopen/pyeasee/pkg/token"
	"github.com/nordicopen/pyeasee/pkg/transport"
	"github.com/nordicopen/pyeasee/pkg/version"
	"github.com/nordicopen/pyeasee/pkg/wire"
)

const shutdownTimeout = 5 * time.Second

// errQuit ends the run from the interactive shell.
var errQuit = errors.New("quit")

// app wires the command's components together.
type app struct {
	cfg         *config.Config
	out         io.Writer
	interactive bool

	logger   *zap.Logger
	registry *prometheus.Registry

	store    *token.Store
	client   *rest.Client
	sup      *stream.Supervisor
	bridge   *bridge.Bridge
	printer  *printer
	rl       *readline.Instance
	closers  []func(context.Context) error
	ready    chan struct{}
	metricsL net.Listener
}

func newApp(cfg *config.Config, out io.Writer) *app {
	return &app{
		cfg:      cfg,
		out:      out,
		registry: prometheus.NewRegistry(),
		ready:    make(chan struct{}),
	}
}

// Run streams until ctx is cancelled or the shell quits.
func (a *app) Run(ctx context.Context) error {
	if a.interactive {
		rl, err := readline.NewEx(&readline.Config{
			Prompt:          "easee> ",
			InterruptPrompt: "^C",
			EOFPrompt:       "exit",
		})
		if err != nil {
			return fmt.Errorf("failed to create readline: %w", err)
		}
		a.rl = rl
		a.out = rl.Stdout()
	}

	if a.logger == nil {
		var logOut io.Writer = os.Stderr
		if a.rl != nil {
			logOut = a.rl.Stderr()
		}
		a.logger, _ = logging.New(logging.Config{
			Level:       a.cfg.Log.Level,
			Development: a.cfg.Log.Development,
			JSON:        a.cfg.Log.JSON,
			Output:      logOut,
		})
	}
	defer a.logger.Sync() //nolint:errcheck

	defer a.shutdown()
	if err := a.setup(ctx); err != nil {
		return err
	}

	devices, err := a.devices(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if a.metricsL != nil {
		srv := &http.Server{Handler: a.router(), ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error {
			if err := srv.Serve(a.metricsL); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	for _, id := range devices {
		if err := a.sup.Subscribe(id, a.callback()); err != nil {
			return fmt.Errorf("subscribe %s: %w", id, err)
		}
	}
	a.logger.Info("streaming", zap.Strings("devices", devices))

	if a.rl != nil {
		sh := newShell(a, a.rl.Stdout())
		g.Go(func() error { return sh.run(gctx, a.rl) })
	}

	g.Go(func() error {
		<-gctx.Done()
		return a.sup.Close()
	})

	close(a.ready)

	if err := g.Wait(); err != nil && !errors.Is(err, errQuit) {
		return err
	}
	return nil
}

// setup builds every component the configuration asks for.
func (a *app) setup(ctx context.Context) error {
	cfg := a.cfg

	if cfg.Tracing.Enabled {
		closer, err := tracing.Start(cfg.Tracing.ServiceName, a.logger)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func(context.Context) error { return closer.Close() })
	}

	restCfg := rest.Config{
		BaseURL:       cfg.REST.BaseURL,
		UserAgent:     version.UserAgent(version.ComponentREST, cfg.UserAgent),
		HTTPClient:    &http.Client{Timeout: cfg.REST.Timeout},
		RateLimit:     cfg.REST.RateLimit,
		RatePeriod:    cfg.REST.RatePeriod,
		MaxRetries:    cfg.REST.MaxRetries,
		RetryInterval: cfg.REST.RetryInterval,
		Logger:        a.logger,
	}

	storeOpts := []token.Option{token.WithLogger(a.logger)}
	if cfg.TokenCache != "" {
		storeOpts = append(storeOpts, token.WithCache(token.NewFileCache(cfg.TokenCache)))
	}
	a.store = token.NewStore(rest.NewAuthenticator(restCfg, cfg.Username, cfg.Password), storeOpts...)
	a.client = rest.NewClient(a.store, restCfg)

	metrics, err := stream.NewMetrics(a.registry)
	if err != nil {
		return err
	}
	a.registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	protocol, err := a.protocolLogger()
	if err != nil {
		return err
	}

	a.sup, err = stream.New(a.store,
		stream.WithPolicy(cfg.Backoff),
		stream.WithLogger(a.logger),
		stream.WithMetrics(metrics),
		stream.WithProtocolLogger(protocol),
		stream.WithQueueSize(cfg.Stream.QueueSize),
		stream.WithReconnectOnUnsubscribe(cfg.Stream.ReconnectOnUnsubscribe),
		stream.WithTransportConfig(transport.Config{
			HubURL:          cfg.Stream.HubURL,
			SkipNegotiation: cfg.Stream.SkipNegotiation,
			UserAgent:       version.UserAgent(version.ComponentStream, cfg.UserAgent),
			KeepAlive:       cfg.Stream.KeepAlive,
			Logger:          a.logger,
			ProtocolLogger:  protocol,
		}),
	)
	if err != nil {
		return err
	}
	a.sup.OnStateChange(func(oldState, newState stream.State) {
		a.logger.Info("stream state", zap.Stringer("from", oldState), zap.Stringer("to", newState))
	})

	a.printer = newPrinter(a.out)

	if cfg.MQTT.Enabled {
		pub, err := bridge.NewPahoPublisher(ctx, bridge.PahoConfig{
			BrokerURL: cfg.MQTT.BrokerURL,
			ClientID:  cfg.MQTT.ClientID,
			Username:  cfg.MQTT.Username,
			Password:  cfg.MQTT.Password,
			QoS:       cfg.MQTT.QoS,
			Logger:    a.logger,
		})
		if err != nil {
			return err
		}
		a.closers = append(a.closers, pub.Close)
		a.bridge = bridge.New(pub,
			bridge.WithPrefix(cfg.MQTT.TopicPrefix),
			bridge.WithRetain(cfg.MQTT.Retain),
			bridge.WithLogger(a.logger))
	}

	if cfg.Metrics.Listen != "" {
		l, err := net.Listen("tcp", cfg.Metrics.Listen)
		if err != nil {
			return fmt.Errorf("metrics listen: %w", err)
		}
		a.metricsL = l
		a.logger.Info("serving metrics", zap.String("addr", l.Addr().String()), zap.String("path", cfg.Metrics.Path))
	}
	return nil
}

// protocolLogger returns the capture sink: the capture file and, at debug
// level, the zap log.
func (a *app) protocolLogger() (log.Logger, error) {
	var sinks []log.Logger
	if a.cfg.Capture.File != "" {
		fl, err := log.NewFileLogger(a.cfg.Capture.File)
		if err != nil {
			return nil, fmt.Errorf("capture file: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return fl.Close() })
		sinks = append(sinks, fl)
	}
	if a.logger.Core().Enabled(zap.DebugLevel) {
		sinks = append(sinks, log.NewZapAdapter(a.logger))
	}

	switch len(sinks) {
	case 0:
		return nil, nil
	case 1:
		return sinks[0], nil
	default:
		return log.NewMultiLogger(sinks...), nil
	}
}

// devices returns the configured chargers, or every charger of the
// account.
func (a *app) devices(ctx context.Context) ([]string, error) {
	if len(a.cfg.Devices) > 0 {
		return a.cfg.Devices, nil
	}

	chargers, err := a.client.Chargers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list chargers: %w", err)
	}
	if len(chargers) == 0 {
		return nil, errors.New("the account has no chargers")
	}

	ids := make([]string, 0, len(chargers))
	for _, c := range chargers {
		ids = append(ids, c.ID)
	}
	return ids, nil
}

// callback prints every event and, when bridging, publishes it.
func (a *app) callback() subscription.Callback {
	show := a.printer.Callback()
	if a.bridge == nil {
		return show
	}
	publish := a.bridge.Callback()
	return func(deviceID string, dataType wire.DataType, fieldID int, value any) {
		show(deviceID, dataType, fieldID, value)
		publish(deviceID, dataType, fieldID, value)
	}
}

type healthResponse struct {
	State         string   `json:"state"`
	Connected     bool     `json:"connected"`
	Failures      int      `json:"failures"`
	Subscriptions []string `json:"subscriptions"`
}

func (a *app) router() http.Handler {
	r := mux.NewRouter()
	r.Handle(a.cfg.Metrics.Path, promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/healthz", a.handleHealth).Methods(http.MethodGet)
	return r
}

func (a *app) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		State:         a.sup.State().String(),
		Connected:     a.sup.IsConnected(),
		Failures:      a.sup.Failures(),
		Subscriptions: a.sup.Subscriptions(),
	}
	status := http.StatusOK
	if !resp.Connected {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// shutdown closes the supervisor and every opened resource, newest first.
func (a *app) shutdown() {
	if a.sup != nil {
		_ = a.sup.Close()
	}
	if a.metricsL != nil {
		_ = a.metricsL.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("shutdown", zap.Error(err))
		}
	}
	a.closers = nil

	if a.rl != nil {
		_ = a.rl.Close()
	}
}
