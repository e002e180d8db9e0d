// Package blockproducer implements C6: periodic closure of the open
// mutation block and the resulting block event broadcast.
package blockproducer

import (
	"time"

	"github.com/docvault/storagenode/pkg/log"
	"github.com/docvault/storagenode/pkg/metrics"
	"github.com/docvault/storagenode/pkg/subscription"
	"github.com/docvault/storagenode/pkg/types"
)

// BlockCloser is the subset of the mutation store the producer needs.
type BlockCloser interface {
	IncreaseBlockReturnLastState() (closedBlock uint64, mutationCount uint64, err error)
}

// Producer closes blocks on a fixed interval and publishes a
// BlockEvent for each closure, including empty ones (spec §8: the
// block producer on an empty interval still emits an event with
// mutation_count = 0, so subscribers can track liveness).
type Producer struct {
	store    BlockCloser
	hub      *subscription.Hub
	interval time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a Producer. interval is the fixed block-closure period.
func New(store BlockCloser, hub *subscription.Hub, interval time.Duration) *Producer {
	return &Producer{
		store:    store,
		hub:      hub,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start runs the closure loop in a goroutine.
func (p *Producer) Start() {
	go p.run()
}

// Stop signals the loop to exit and waits for it to finish.
func (p *Producer) Stop() {
	close(p.stopCh)
	<-p.doneCh
}

func (p *Producer) run() {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	logger := log.WithComponent("blockproducer")

	for {
		select {
		case <-ticker.C:
			event, err := p.CloseOnce()
			if err != nil {
				logger.Error().Err(err).Msg("close block")
				continue
			}
			logger.Debug().Uint64("block", event.BlockID).Uint64("mutations", event.MutationCount).Msg("block closed")
		case <-p.stopCh:
			return
		}
	}
}

// CloseOnce closes the current block and publishes its event. Exported
// so tests can trigger closure outside the ticker.
func (p *Producer) CloseOnce() (types.BlockEvent, error) {
	closed, count, err := p.store.IncreaseBlockReturnLastState()
	if err != nil {
		return types.BlockEvent{}, err
	}
	event := types.BlockEvent{BlockID: closed, MutationCount: count}
	metrics.BlocksClosed.Inc()
	p.hub.Publish(event)
	return event, nil
}
