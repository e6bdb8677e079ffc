/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/allbin/go-devlink"
	"github.com/allbin/go-devlink/internal/api"
	"github.com/allbin/go-devlink/internal/config"
	"github.com/allbin/go-devlink/internal/sink"
	"github.com/allbin/go-devlink/internal/sink/capture"
	"github.com/allbin/go-devlink/internal/sink/influx"
	"github.com/allbin/go-devlink/internal/sink/mqtt"
	"github.com/allbin/go-devlink/internal/sink/thingspeak"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the link and every enabled sink",
	Long: `Run the link manager together with every sink enabled in the
configuration: MQTT, InfluxDB, ThingSpeak, a JSON-lines capture file and the
local HTTP/WebSocket API.

Runs until interrupted (Ctrl+C or SIGTERM).

Example usage:
  devlink run
  devlink run --signature "Arduino" --baud 9600
  DEVLINK_MQTT_ENABLED=true DEVLINK_MQTT_BROKER=tcp://broker:1883 devlink run`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, log, err := setup()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer log.Sync()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := runService(ctx, cfg, log); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// stateRelay forwards state changes to the MQTT bridge once it exists.
// The hook is registered before the Manager runs, the bridge is
// connected after.
type stateRelay struct {
	mu      sync.RWMutex
	manager *devlink.Manager
	bridge  *mqtt.Bridge
}

func (r *stateRelay) set(m *devlink.Manager, b *mqtt.Bridge) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.manager, r.bridge = m, b
}

func (r *stateRelay) hook(from, to devlink.State) {
	if from == to {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.bridge != nil && r.manager != nil {
		r.bridge.PublishState(r.manager.Status())
	}
}

func runService(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	relay := &stateRelay{}
	manager, err := newManager(cfg.Link, log, devlink.WithStateHook(relay.hook))
	if err != nil {
		return err
	}

	sinks, bridge, err := buildSinks(cfg, manager, log)
	if err != nil {
		return err
	}
	relay.set(manager, bridge)

	var wg sync.WaitGroup
	for _, s := range sinks {
		sub := manager.Subscribe()
		wg.Add(1)
		go func() {
			defer wg.Done()
			sink.Pump(ctx, sub, s, log)
		}()
		log.Info("sink enabled", zap.String("sink", s.Name()))
	}

	apiErr := make(chan error, 1)
	if cfg.API.Enabled {
		srv := api.New(cfg.API, manager, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			apiErr <- srv.Run(ctx)
		}()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case err := <-apiErr:
			if err != nil {
				log.Error("api server stopped", zap.Error(err))
				cancel()
			}
		case <-runCtx.Done():
		}
	}()

	err = manager.Run(runCtx)
	cancel()
	wg.Wait()
	log.Info("shutdown complete")
	return err
}

// buildSinks connects every enabled sink. Sinks connected before a
// failure are closed again.
func buildSinks(cfg config.Config, manager *devlink.Manager, log *zap.Logger) ([]sink.Sink, *mqtt.Bridge, error) {
	var sinks []sink.Sink
	fail := func(err error) ([]sink.Sink, *mqtt.Bridge, error) {
		for _, s := range sinks {
			s.Close()
		}
		return nil, nil, err
	}

	var bridge *mqtt.Bridge
	if cfg.MQTT.Enabled {
		b, err := mqtt.Connect(cfg.MQTT, manager, log.Named("mqtt"))
		if err != nil {
			return fail(err)
		}
		bridge = b
		sinks = append(sinks, b)
	}

	if cfg.InfluxDB.Enabled {
		port := func() string { return manager.Status().Target }
		w, err := influx.Connect(cfg.InfluxDB, port, log.Named("influxdb"))
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, w)
	}

	if cfg.ThingSpeak.Enabled {
		client := &http.Client{Timeout: cfg.ThingSpeak.Timeout}
		sinks = append(sinks, thingspeak.New(cfg.ThingSpeak, client, log.Named("thingspeak")))
	}

	if cfg.Capture.Enabled {
		w, err := capture.Open(cfg.Capture.Path, nil)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, w)
	}

	return sinks, bridge, nil
}
