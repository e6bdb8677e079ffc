// Package sink connects consumers of decoded device messages to a
// devlink.Manager subscription.
package sink

import (
	"context"

	"go.uber.org/zap"

	"github.com/allbin/go-devlink"
	"github.com/allbin/go-devlink/frame"
)

// Sink consumes decoded messages. Handle is called from a single
// goroutine, in arrival order.
type Sink interface {
	Name() string
	Handle(ctx context.Context, msg frame.Message) error
	Close() error
}

// Pump feeds every message from sub into s until the subscription is
// closed or ctx ends. Handle errors are logged and the message dropped;
// they never stop the pump. The subscription and the sink are closed on
// return.
func Pump(ctx context.Context, sub *devlink.Subscription, s Sink, log *zap.Logger) {
	defer func() {
		sub.Close()
		if err := s.Close(); err != nil {
			log.Warn("failed to close sink", zap.String("sink", s.Name()), zap.Error(err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.C():
			if !ok {
				return
			}
			if err := s.Handle(ctx, msg); err != nil {
				log.Warn("sink failed to handle message", zap.String("sink", s.Name()), zap.Error(err))
			}
		}
	}
}
