package usecase

import (
	"time"

	"github.com/rs/zerolog"

	"livescribe/internal/domain"
	"livescribe/internal/eventloop"
	"livescribe/internal/observability"
)

// coordinator sequences teardown of capture and connection once per
// session identity. It runs on the event loop.
type coordinator struct {
	loop       *eventloop.Loop
	identities *Identities
	pipeline   *capturePipeline
	channel    *channel
	logger     zerolog.Logger
	metrics    *observability.Metrics
	grace      time.Duration

	// onComplete runs after both resources are released.
	onComplete func()

	locked    bool
	lockedFor domain.Identity
}

// teardown releases capture and then the channel. It reports false when
// the identity is superseded or a teardown for it is still settling.
func (c *coordinator) teardown(id domain.Identity, reason string) bool {
	if !c.identities.IsCurrent(id) {
		c.logger.Debug().Uint64("identity", uint64(id)).Str("reason", reason).Msg("skipping teardown of a superseded session")
		c.metrics.Teardown("superseded")
		return false
	}
	if c.locked && c.lockedFor == id {
		c.logger.Debug().Uint64("identity", uint64(id)).Str("reason", reason).Msg("teardown already in progress")
		c.metrics.Teardown("skipped")
		return false
	}
	c.locked = true
	c.lockedFor = id

	c.logger.Info().Uint64("identity", uint64(id)).Str("reason", reason).Msg("tearing down session")

	// Capture goes first: closing the channel can trigger callbacks that
	// must find the pipeline inert.
	c.pipeline.teardown()
	c.channel.close(id, reason)
	if c.onComplete != nil {
		c.onComplete()
	}
	c.metrics.Teardown("executed")

	c.loop.AfterFunc(c.grace, func() {
		if c.locked && c.lockedFor == id {
			c.locked = false
		}
	})
	return true
}
