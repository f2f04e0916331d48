// Command easee-stream logs in to the Easee cloud and prints charger
// updates as they are pushed.
//
// Usage:
//
//	easee-stream [flags]
//
// Flags:
//
//	-config string       Configuration file (yaml, json or toml)
//	-user string         Account user name (or EASEE_USERNAME)
//	-password string     Account password (or EASEE_PASSWORD)
//	-device string       Charger IDs, comma separated (default: all chargers)
//	-token-cache string  File the token is cached in between runs
//	-log-level string    Log level: debug, info, warn, error
//	-mqtt string         Republish updates to this MQTT broker
//	-metrics string      Serve Prometheus metrics on this address
//	-capture string      Write a protocol capture file
//	-trace               Send REST spans to Jaeger (JAEGER_* env)
//	-interactive         Enable interactive command mode
//
// Every flag overrides the matching configuration key.
//
// Examples:
//
//	# Stream every charger of the account
//	EASEE_USERNAME=me@example.com EASEE_PASSWORD=... easee-stream
//
//	# Stream one charger into MQTT, with metrics
//	easee-stream -config easee.yaml -device EH000001 -mqtt mqtt://localhost:1883 -metrics :9090
//
// Interactive Commands:
//
//	subscribe <id>    - Subscribe to a charger
//	unsubscribe <id>  - Unsubscribe from a charger
//	list              - List subscriptions
//	chargers          - List the account's chargers
//	status            - Show connection status
//	quit              - Exit
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nordicopen/pyeasee/pkg/config"
)

type flags struct {
	configFile  string
	user        string
	password    string
	devices     string
	tokenCache  string
	logLevel    string
	mqtt        string
	metrics     string
	capture     string
	trace       bool
	interactive bool
}

func parseFlags(args []string) (flags, error) {
	var f flags
	fs := flag.NewFlagSet("easee-stream", flag.ContinueOnError)
	fs.StringVar(&f.configFile, "config", "", "Configuration file (yaml, json or toml)")
	fs.StringVar(&f.user, "user", "", "Account user name (or EASEE_USERNAME)")
	fs.StringVar(&f.password, "password", "", "Account password (or EASEE_PASSWORD)")
	fs.StringVar(&f.devices, "device", "", "Charger IDs, comma separated (default: all chargers)")
	fs.StringVar(&f.tokenCache, "token-cache", "", "File the token is cached in between runs")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.StringVar(&f.mqtt, "mqtt", "", "Republish updates to this MQTT broker")
	fs.StringVar(&f.metrics, "metrics", "", "Serve Prometheus metrics on this address")
	fs.StringVar(&f.capture, "capture", "", "Write a protocol capture file")
	fs.BoolVar(&f.trace, "trace", false, "Send REST spans to Jaeger (JAEGER_* env)")
	fs.BoolVar(&f.interactive, "interactive", false, "Enable interactive command mode")
	err := fs.Parse(args)
	return f, err
}

// apply overrides cfg with the flags that were set.
func (f flags) apply(cfg *config.Config) {
	if f.user != "" {
		cfg.Username = f.user
	}
	if f.password != "" {
		cfg.Password = f.password
	}
	if f.devices != "" {
		cfg.Devices = config.SplitList(f.devices)
	}
	if f.tokenCache != "" {
		cfg.TokenCache = f.tokenCache
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if f.mqtt != "" {
		cfg.MQTT.Enabled = true
		cfg.MQTT.BrokerURL = f.mqtt
	}
	if f.metrics != "" {
		cfg.Metrics.Listen = f.metrics
	}
	if f.capture != "" {
		cfg.Capture.File = f.capture
	}
	if f.trace {
		cfg.Tracing.Enabled = true
	}
}

func loadConfig(f flags) (*config.Config, error) {
	cfg, err := config.Read(f.configFile)
	if err != nil {
		return nil, err
	}
	f.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	f, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	cfg, err := loadConfig(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := newApp(cfg, os.Stdout)
	a.interactive = f.interactive
	if err := a.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
