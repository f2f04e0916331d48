// Command easee-fakehub runs a local fake of the Easee cloud: login,
// token refresh, the charger listing and the SignalR charger hub. Every
// charger simulates a charging session and pushes updates.
//
// Usage:
//
//	easee-fakehub [flags]
//
// Flags:
//
//	-user string       Accepted account, user:password (default "user:secret")
//	-chargers string   Charger IDs, comma separated (default "EH000001")
//	-interval duration Update interval (default 2s)
//	-ping duration     Hub ping interval, 0 disables (default 15s)
//	-log-level string  Log level (default "info")
//
// Point easee-stream at it with -config or:
//
//	EASEE_REST_BASE_URL=<url> EASEE_STREAM_HUB_URL=<url>/hubs/chargers easee-stream
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/nordicopen/pyeasee/internal/hubtest"
	"github.com/nordicopen/pyeasee/internal/logging"
	"github.com/nordicopen/pyeasee/pkg/config"
)

type flags struct {
	user     string
	chargers string
	interval time.Duration
	ping     time.Duration
	logLevel string
}

func parseFlags(args []string) (flags, error) {
	var f flags
	fs := flag.NewFlagSet("easee-fakehub", flag.ContinueOnError)
	fs.StringVar(&f.user, "user", "user:secret", "Accepted account, user:password")
	fs.StringVar(&f.chargers, "chargers", "EH000001", "Charger IDs, comma separated")
	fs.DurationVar(&f.interval, "interval", 2*time.Second, "Update interval")
	fs.DurationVar(&f.ping, "ping", 15*time.Second, "Hub ping interval, 0 disables")
	fs.StringVar(&f.logLevel, "log-level", "info", "Log level")
	err := fs.Parse(args)
	return f, err
}

// options builds the fake's options from the flags.
func (f flags) options() (hubtest.Options, error) {
	user, password, ok := strings.Cut(f.user, ":")
	if !ok || user == "" {
		return hubtest.Options{}, fmt.Errorf("invalid -user %q: want user:password", f.user)
	}

	ids := config.SplitList(f.chargers)
	if len(ids) == 0 {
		return hubtest.Options{}, errors.New("no chargers")
	}
	if f.interval <= 0 {
		return hubtest.Options{}, errors.New("-interval must be positive")
	}
	chargers := make([]hubtest.Charger, 0, len(ids))
	for i, id := range ids {
		chargers = append(chargers, hubtest.Charger{ID: id, Name: fmt.Sprintf("Charger %d", i+1)})
	}

	return hubtest.Options{
		Users:        map[string]string{user: password},
		Chargers:     chargers,
		PingInterval: f.ping,
	}, nil
}

func main() {
	f, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	opts, err := f.options()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	logger, _ := logging.New(logging.Config{Level: f.logLevel, Development: true})
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := hubtest.New(opts)
	defer hub.Close()

	logger.Info("fake cloud listening",
		zap.String("rest", hub.URL()),
		zap.String("hub", hub.HubURL()))

	sims := make([]*simulator, 0, len(opts.Chargers))
	for _, c := range opts.Chargers {
		sims = append(sims, newSimulator(c.ID))
	}
	run(ctx, hub, sims, f.interval, logger)
}

// run steps every simulator each interval until ctx is done.
func run(ctx context.Context, hub *hubtest.Server, sims []*simulator, interval time.Duration, logger *zap.Logger) {
	for _, s := range sims {
		hub.SetState(s.id, s.state()...)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for _, s := range sims {
			events := s.step()
			hub.SetState(s.id, s.state()...)
			n := hub.Push(s.id, events...)
			logger.Debug("pushed", zap.String("charger", s.id), zap.Int("events", len(events)), zap.Int("sessions", n))
		}
	}
}
