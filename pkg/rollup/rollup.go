// Package rollup implements C7: periodic batching of recent mutation
// bodies, compression, archive upload, and rollup/gc record keeping.
package rollup

import (
	"context"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/docvault/storagenode/pkg/log"
	"github.com/docvault/storagenode/pkg/metrics"
	"github.com/docvault/storagenode/pkg/types"
)

// MutationSource is the subset of the mutation store the executor
// needs: range reads, progress tracking, and the record writers.
type MutationSource interface {
	LatestRollupEndBlock() (uint64, error)
	OpenBlock() uint64
	GetRangeMutations(start, end uint64) ([]types.MutationHeader, []types.MutationBody, error)
	RecordRollup(r types.RollupRecord) error
	RecordGC(g types.GCRecord) error
	DeleteBodiesInRange(start, end uint64) (int, error)
}

// ConfigSource supplies the live-reconfigurable rollup parameters.
type ConfigSource interface {
	Config() types.SystemConfig
}

// Executor is the C7 rollup ticker.
type Executor struct {
	store   MutationSource
	config  ConfigSource
	archive ArchiveClient

	gcEnabled bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates an Executor. gcEnabled controls whether rolled-up bodies
// are pruned from the mutation store after a durable rollup record.
func New(store MutationSource, config ConfigSource, archive ArchiveClient, gcEnabled bool) *Executor {
	return &Executor{
		store:     store,
		config:    config,
		archive:   archive,
		gcEnabled: gcEnabled,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start runs the rollup loop in a goroutine.
func (e *Executor) Start() {
	go e.run()
}

// Stop signals the loop to exit and waits for it to finish.
func (e *Executor) Stop() {
	close(e.stopCh)
	<-e.doneCh
}

func (e *Executor) run() {
	defer close(e.doneCh)

	logger := log.WithComponent("rollup")

	interval := e.config.Config().RollupInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := e.Tick(context.Background()); err != nil {
				logger.Error().Err(err).Msg("rollup tick failed")
			}
			if next := e.config.Config().RollupInterval; next > 0 && next != interval {
				interval = next
				ticker.Reset(interval)
			}
		case <-e.stopCh:
			return
		}
	}
}

// Tick runs one rollup attempt. It returns (false, nil) when there is
// nothing to roll up yet, matching spec §4.7's "if raw size <
// min_rollup_size, return (wait)".
func (e *Executor) Tick(ctx context.Context) (bool, error) {
	cfg := e.config.Config()

	start, err := e.store.LatestRollupEndBlock()
	if err != nil {
		return false, err
	}
	end := e.store.OpenBlock()
	if end <= start {
		return false, nil
	}

	headers, bodies, err := e.store.GetRangeMutations(start, end)
	if err != nil {
		return false, err
	}

	var rawSize uint64
	for _, b := range bodies {
		rawSize += uint64(len(b.Payload) + len(b.Signature))
	}
	if rawSize < cfg.MinRollupSize {
		return false, nil
	}

	frame, err := EncodeFrame(headers, bodies)
	if err != nil {
		return false, err
	}

	compressed, err := compress(frame)
	if err != nil {
		return false, err
	}

	archiveTx, err := e.archive.Upload(ctx, compressed)
	if err != nil {
		return false, err
	}

	metrics.RollupBytesRaw.Add(float64(len(frame)))
	metrics.RollupBytesCompressed.Add(float64(len(compressed)))

	record := types.RollupRecord{
		StartBlock:     start,
		EndBlock:       end,
		RawSize:        uint64(len(frame)),
		CompressedSize: uint64(len(compressed)),
		ArchiveTx:      archiveTx,
		Time:           time.Now().UTC(),
	}
	if err := e.store.RecordRollup(record); err != nil {
		return false, err
	}
	metrics.RollupRecordsWritten.Inc()

	if e.gcEnabled {
		if _, err := e.store.DeleteBodiesInRange(start, end); err != nil {
			return false, err
		}
		if err := e.store.RecordGC(types.GCRecord{StartBlock: start, EndBlock: end, Time: time.Now().UTC()}); err != nil {
			return false, err
		}
		metrics.GCRecordsWritten.Inc()
	}

	return true, nil
}

func compress(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}
