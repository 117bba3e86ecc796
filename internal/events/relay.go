package events

import (
	"context"
	"encoding/json"
	"log/slog"
)

// PatternSubscriber is the pub/sub consumer interface the relay needs.
// Satisfied by the infra Redis adapter.
type PatternSubscriber interface {
	PSubscribe(ctx context.Context, pattern string, handler func(channel string, payload []byte)) (func(), error)
}

// Relay feeds every event published under the channel prefix, this pod's own
// included, into this pod's sinks. The dispatcher feeds broadcast sinks
// directly only when publication fails, so without a relay SSE and WebSocket
// sessions see only events whose publication failed.
type Relay struct {
	unsubscribe func()
}

// StartRelay subscribes to every tenant channel under the prefix and
// forwards decoded events to the sinks.
func StartRelay(ctx context.Context, sub PatternSubscriber, channelPrefix string, sinks ...Sink) (*Relay, error) {
	if channelPrefix == "" {
		channelPrefix = "platform:events:"
	}

	unsub, err := sub.PSubscribe(ctx, channelPrefix+"*", func(channel string, payload []byte) {
		var e Event
		if err := json.Unmarshal(payload, &e); err != nil {
			slog.Warn("Relay decode failed", "channel", channel, "error", err)
			return
		}
		for _, sink := range sinks {
			sink.Deliver(&e)
		}
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Event relay subscribed", "pattern", channelPrefix+"*")
	return &Relay{unsubscribe: unsub}, nil
}

// Stop unsubscribes the relay.
func (r *Relay) Stop() {
	if r.unsubscribe != nil {
		r.unsubscribe()
	}
}
