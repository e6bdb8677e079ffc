// Package devlink keeps a resilient link to a single serial device that
// speaks line-delimited JSON.
//
// A Manager finds the device among the attached serial ports by matching
// a signature against each port's USB descriptor, opens it, and decodes
// every line it receives. Decoded messages are broadcast to all
// subscribers. When the device disappears, fails to open, or enumeration
// fails, the Manager waits for the retry delay and starts over with a
// fresh scan.
//
// # Basic Usage
//
//	m, err := devlink.New(
//	    devlink.WithSignature("Arduino"),
//	    devlink.WithBaudRate(9600),
//	    devlink.WithLogger(logger),
//	)
//	if err != nil {
//	    return err
//	}
//
//	sub := m.Subscribe()
//	defer sub.Close()
//
//	go m.Run(ctx)
//
//	for msg := range sub.C() {
//	    fmt.Println(msg["temp"])
//	}
//
// # Sending
//
// Send encodes a value as one line and writes it to the device. It
// returns ErrNotConnected while no link is up, so callers that want
// fire-and-forget semantics can ignore that error:
//
//	if err := m.Send(ctx, map[string]any{"cmd": "on"}); err != nil && !errors.Is(err, devlink.ErrNotConnected) {
//	    return err
//	}
//
// # States
//
// The link moves through Disconnected, Discovered, Connected, Closed and
// Error. Disconnected, Closed and Error each arm a one-shot timer that
// triggers the next discovery scan. Stopped is entered once when the
// context passed to Run is cancelled.
package devlink
