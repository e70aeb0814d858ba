package cataloglog

import (
	"context"

	"github.com/cuemby/chronicle/pkg/catalog"
	"github.com/cuemby/chronicle/pkg/catalogevents"
	"github.com/cuemby/chronicle/pkg/clog"
)

// Checkpointer watches applied-batch events and writes a fresh
// checkpoint once the catalog sequence has advanced interval batches
// past the last checkpointed sequence, keeping startup replay cost
// bounded regardless of lifetime operation count. The trigger compares
// sequence numbers rather than counting delivered events, so a lagged
// subscription cannot stall it.
type Checkpointer struct {
	log      *Log
	cat      *catalog.Catalog
	sub      *catalogevents.Subscription
	interval uint64

	lastCheckpointed catalog.CatalogSequenceNumber

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewCheckpointer subscribes to bus immediately so no batch applied
// after construction is missed. An interval of 0 falls back to
// catalog.DefaultCheckpointInterval. The catalog's current sequence is
// taken as the checkpoint base; callers that replayed a long log tail
// at startup should write a catch-up checkpoint first.
func NewCheckpointer(log *Log, cat *catalog.Catalog, bus *catalogevents.Bus, interval uint64) *Checkpointer {
	if interval == 0 {
		interval = catalog.DefaultCheckpointInterval
	}
	return &Checkpointer{
		log:              log,
		cat:              cat,
		sub:              bus.Subscribe(),
		interval:         interval,
		lastCheckpointed: cat.Sequence(),
		stopCh:           make(chan struct{}),
		doneCh:           make(chan struct{}),
	}
}

// Start begins the watch loop in a goroutine.
func (c *Checkpointer) Start() {
	go c.run()
}

// Stop signals shutdown and waits for the loop to exit.
func (c *Checkpointer) Stop() {
	close(c.stopCh)
	<-c.doneCh
}

func (c *Checkpointer) run() {
	defer close(c.doneCh)
	defer c.sub.Close()
	logger := clog.WithComponent("checkpointer")

	logger.Info().Uint64("interval", c.interval).Msg("checkpointer started")

	for {
		select {
		case ev, ok := <-c.sub.C:
			if !ok {
				return
			}
			if uint64(ev.Seq-c.lastCheckpointed) < c.interval {
				continue
			}
			snap := c.cat.Checkpoint()
			if err := c.log.Checkpoint(context.Background(), snap); err != nil {
				logger.Error().Err(err).Msg("writing checkpoint failed")
				continue
			}
			c.lastCheckpointed = snap.Sequence
			logger.Info().
				Uint64("sequence", uint64(snap.Sequence)).
				Msg("checkpoint written")
		case <-c.stopCh:
			logger.Info().Msg("checkpointer stopped")
			return
		}
	}
}
