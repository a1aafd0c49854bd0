package redis

import (
	"context"
	"encoding/json"

	"norelock.dev/listenify/providerhost/internal/registry"
)

// ForwardEvents publishes registry events as JSON on channel until events
// is closed or ctx is done.
func (c *Client) ForwardEvents(ctx context.Context, channel string, events <-chan registry.Event) {
	logger := c.logger.With("channel", channel)
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			payload, err := json.Marshal(e)
			if err != nil {
				logger.Error("Failed to encode registry event", err, "type", string(e.Type))
				continue
			}
			if err := c.Publish(ctx, channel, payload); err != nil {
				logger.Warn("Registry event not published", "type", string(e.Type), "platform", e.Platform)
			}
		}
	}
}
