// Package influx writes the numeric fields of decoded messages to
// InfluxDB v2 as points.
package influx

import (
	"context"
	"errors"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"

	"github.com/allbin/go-devlink/frame"
	"github.com/allbin/go-devlink/internal/config"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultBatchSize      = 100
	defaultFlushInterval  = 10 * time.Second
	defaultMeasurement    = "devlink"
)

var ErrConnectionFailed = errors.New("influx: connection failed")

// Writer batches points and writes them in the background. Write errors
// are logged, never returned from Handle.
type Writer struct {
	client      influxdb2.Client
	writeAPI    api.WriteAPI
	measurement string
	port        func() string
	log         *zap.Logger
	done        chan struct{}
}

// Connect pings the server and sets up a batching write API. port, if
// not nil, is called for every point and its result becomes the "port" tag.
func Connect(cfg config.InfluxDBConfig, port func() string, log *zap.Logger) (*Writer, error) {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}

	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batchSize)).
			SetFlushInterval(uint(flushInterval.Milliseconds())),
	)

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	measurement := cfg.Measurement
	if measurement == "" {
		measurement = defaultMeasurement
	}

	w := &Writer{
		client:      client,
		writeAPI:    client.WriteAPI(cfg.Org, cfg.Bucket),
		measurement: measurement,
		port:        port,
		log:         log,
		done:        make(chan struct{}),
	}
	go w.handleWriteErrors(w.writeAPI.Errors())

	log.Info("connected to influxdb", zap.String("url", cfg.URL), zap.String("bucket", cfg.Bucket))
	return w, nil
}

func (w *Writer) handleWriteErrors(errs <-chan error) {
	for {
		select {
		case err := <-errs:
			w.log.Warn("influxdb write failed", zap.Error(err))
		case <-w.done:
			return
		}
	}
}

func (w *Writer) Name() string { return "influxdb" }

// Handle queues one point holding every numeric field of msg. Messages
// without numbers are skipped.
func (w *Writer) Handle(_ context.Context, msg frame.Message) error {
	numbers := msg.Numbers()
	if len(numbers) == 0 {
		return nil
	}

	fields := make(map[string]interface{}, len(numbers))
	for k, v := range numbers {
		fields[k] = v
	}

	tags := map[string]string{}
	if w.port != nil {
		if p := w.port(); p != "" {
			tags["port"] = p
		}
	}

	w.writeAPI.WritePoint(write.NewPoint(w.measurement, tags, fields, time.Now()))
	return nil
}

// Close flushes pending points and closes the client.
func (w *Writer) Close() error {
	w.writeAPI.Flush()
	w.client.Close()
	close(w.done)
	return nil
}
