package client

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DefaultTickInterval matches the game's 20 Hz logic rate.
const DefaultTickInterval = 50 * time.Millisecond

// Run drives the session: frames from the lobby are applied as they arrive and
// Tick runs on every interval. It returns when ctx ends or frames is closed.
func (s *Session) Run(ctx context.Context, frames <-chan []byte, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-frames:
			if !ok {
				return nil
			}
			if err := s.HandleFrame(raw); err != nil {
				s.log.Warn("bad frame", zap.Error(err))
			}
		case <-ticker.C:
			s.Tick()
		}
	}
}
