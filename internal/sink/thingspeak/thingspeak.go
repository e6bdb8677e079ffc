// Package thingspeak forwards device readings to a ThingSpeak-style
// update endpoint as query parameters of a GET request.
package thingspeak

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/allbin/go-devlink/frame"
	"github.com/allbin/go-devlink/internal/config"
)

var ErrRejected = errors.New("thingspeak: update rejected")

// maxBody bounds how much of a response is read for the debug log.
const maxBody = 4096

// Forwarder sends one update per message.
type Forwarder struct {
	cfg    config.ThingSpeakConfig
	client *http.Client
	log    *zap.Logger
}

// New returns a Forwarder for cfg. A nil client gets one with cfg.Timeout.
func New(cfg config.ThingSpeakConfig, client *http.Client, log *zap.Logger) *Forwarder {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Forwarder{cfg: cfg, client: client, log: log}
}

func (f *Forwarder) Name() string { return "thingspeak" }

// Handle maps msg onto the configured fields and issues the request.
// Messages carrying none of the fields are skipped.
func (f *Forwarder) Handle(ctx context.Context, msg frame.Message) error {
	query, ok := f.query(msg)
	if !ok {
		f.log.Debug("message has no mapped fields, skipping")
		return nil
	}

	u, err := url.Parse(f.cfg.URL)
	if err != nil {
		return fmt.Errorf("invalid thingspeak url: %w", err)
	}
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("thingspeak request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	f.log.Debug("thingspeak response", zap.Int("status", resp.StatusCode), zap.ByteString("body", body))

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%w: HTTP %d", ErrRejected, resp.StatusCode)
	}
	return nil
}

func (f *Forwarder) Close() error {
	f.client.CloseIdleConnections()
	return nil
}

// query builds the update parameters. Field names are visited in sorted
// order so requests are reproducible.
func (f *Forwarder) query(msg frame.Message) (url.Values, bool) {
	params := make([]string, 0, len(f.cfg.Fields))
	for param := range f.cfg.Fields {
		params = append(params, param)
	}
	sort.Strings(params)

	q := url.Values{}
	q.Set("api_key", f.cfg.APIKey)

	found := false
	for _, param := range params {
		key := f.cfg.Fields[param]
		if key == f.cfg.TemperatureField && key != "" {
			raw, ok := msg.Number(key)
			if !ok {
				continue
			}
			q.Set(param, strconv.FormatFloat(Celsius(raw), 'f', 4, 64))
			found = true
			continue
		}

		v, ok := fieldValue(msg[key])
		if !ok {
			continue
		}
		q.Set(param, v)
		found = true
	}
	return q, found
}

// Celsius converts the device's 10-bit analog temperature reading.
func Celsius(raw float64) float64 {
	return 25*raw/1023 + 10
}

func fieldValue(v any) (string, bool) {
	switch v := v.(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case fmt.Stringer:
		return v.String(), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(v), true
	default:
		return fmt.Sprint(v), true
	}
}
