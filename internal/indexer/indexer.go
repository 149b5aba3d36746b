// Package indexer maintains the SQLite read-through cache of registry
// state. Events are the hot path; direct registry reads fill cache misses
// and delivery gaps.
package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ssd-technologies/agentpulse/internal/attestation"
	"github.com/ssd-technologies/agentpulse/internal/burner"
	"github.com/ssd-technologies/agentpulse/internal/ledger"
	"github.com/ssd-technologies/agentpulse/internal/registry"
	"github.com/ssd-technologies/agentpulse/internal/storage"
)

// Options tunes an Indexer. Zero values take defaults.
type Options struct {
	Buffer            int
	Staleness         time.Duration
	ReconcileInterval time.Duration
	ReconcileBatch    int
	Logger            *zap.Logger
	Now               func() time.Time
}

// Indexer consumes chain logs into storage.
type Indexer struct {
	chain  *ledger.Chain
	reg    *registry.Registry
	db     *storage.DB
	logger *zap.Logger
	now    func() time.Time

	buffer    int
	staleness time.Duration
	interval  time.Duration
	batch     int

	// last is the highest log sequence processed; owned by Run.
	last uint64
}

// New returns an indexer for reg's chain backed by db.
func New(chain *ledger.Chain, reg *registry.Registry, db *storage.DB, opts Options) *Indexer {
	ix := &Indexer{
		chain:     chain,
		reg:       reg,
		db:        db,
		logger:    opts.Logger,
		now:       opts.Now,
		buffer:    opts.Buffer,
		staleness: opts.Staleness,
		interval:  opts.ReconcileInterval,
		batch:     opts.ReconcileBatch,
	}
	if ix.logger == nil {
		ix.logger = zap.NewNop()
	}
	if ix.now == nil {
		ix.now = time.Now
	}
	if ix.buffer <= 0 {
		ix.buffer = 1024
	}
	if ix.staleness <= 0 {
		ix.staleness = 5 * time.Minute
	}
	if ix.interval <= 0 {
		ix.interval = time.Minute
	}
	if ix.batch <= 0 {
		ix.batch = 100
	}
	return ix
}

// Run subscribes to the chain and processes logs until ctx is cancelled.
// It first catches up from the stored cursor.
func (ix *Indexer) Run(ctx context.Context) error {
	sub := ix.chain.Subscribe(ix.buffer)
	defer sub.Close()

	cursor, err := ix.db.Cursor(ctx)
	if err != nil {
		return err
	}
	ix.last = cursor
	if err := ix.Backfill(ctx); err != nil {
		return err
	}

	var dropped uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-sub.C:
			if !ok {
				return nil
			}
			if d := sub.Dropped(); d != dropped || l.Seq > ix.last+1 {
				ix.logger.Warn("event gap, backfilling",
					zap.Uint64("from", ix.last),
					zap.Uint64("got", l.Seq),
					zap.Uint64("dropped", d-dropped))
				dropped = d
				if err := ix.Backfill(ctx); err != nil {
					return err
				}
				continue
			}
			if l.Seq <= ix.last {
				continue
			}
			if err := ix.process(ctx, l); err != nil {
				return err
			}
		}
	}
}

// Backfill processes every committed log after the last processed one.
func (ix *Indexer) Backfill(ctx context.Context) error {
	logs := ix.chain.LogsSince(ix.last)
	for _, l := range logs {
		if err := ix.process(ctx, l); err != nil {
			return err
		}
	}
	if len(logs) > 0 {
		ix.logger.Info("backfilled events", zap.Int("count", len(logs)), zap.Uint64("cursor", ix.last))
	}
	return nil
}

func (ix *Indexer) process(ctx context.Context, l ledger.Log) error {
	payload, err := json.Marshal(l.Event)
	if err != nil {
		return fmt.Errorf("encode %s: %w", l.Name(), err)
	}
	ev := &storage.Event{
		Seq:       int64(l.Seq),
		TxHash:    l.TxHash.Hex(),
		LogIndex:  int64(l.Index),
		Height:    int64(l.Height),
		Contract:  l.Contract.Hex(),
		Name:      l.Name(),
		Agent:     subject(l.Event),
		Payload:   string(payload),
		Timestamp: int64(l.Timestamp),
	}
	var patch *storage.AgentPatch
	if l.Contract == ix.reg.Address() {
		patch = ix.patchFor(l.Event)
	}
	inserted, err := ix.db.RecordEvent(ctx, ev, patch)
	if err != nil {
		return err
	}
	if l.Seq > ix.last {
		ix.last = l.Seq
	}
	if !inserted {
		ix.logger.Debug("duplicate event ignored", zap.String("tx", ev.TxHash), zap.Int64("index", ev.LogIndex))
	}
	return nil
}

// subject returns the agent an event is about, if any.
func subject(ev ledger.Event) string {
	switch e := ev.(type) {
	case registry.Pulse:
		return e.Agent.Hex()
	case registry.ReliabilityUpdate:
		return e.Agent.Hex()
	case registry.Staked:
		return e.Agent.Hex()
	case registry.Unstaked:
		return e.Agent.Hex()
	case attestation.AttestationSubmitted:
		return e.Subject.Hex()
	case attestation.EpochReset:
		return e.Attestor.Hex()
	case burner.BurnedWithFee:
		return e.Caller.Hex()
	}
	return ""
}

func (ix *Indexer) patchFor(ev ledger.Event) *storage.AgentPatch {
	at := ix.now().Unix()
	switch e := ev.(type) {
	case registry.Pulse:
		lastPulse := int64(e.Timestamp)
		streak := int64(e.Streak)
		burned := e.TotalBurned.String()
		return &storage.AgentPatch{
			Address:     e.Agent.Hex(),
			LastPulseAt: &lastPulse,
			Streak:      &streak,
			TotalBurned: &burned,
			UpdatedAt:   at,
		}
	case registry.ReliabilityUpdate:
		score := int64(e.Score)
		tier := e.Tier.String()
		return &storage.AgentPatch{Address: e.Agent.Hex(), Score: &score, Tier: &tier, UpdatedAt: at}
	case registry.Staked:
		return ix.stakePatch(e.Agent, at)
	case registry.Unstaked:
		return ix.stakePatch(e.Agent, at)
	}
	return nil
}

// stakePatch reads the current stake directly; the events carry deltas.
func (ix *Indexer) stakePatch(agent ledger.Address, at int64) *storage.AgentPatch {
	rec := ledger.Read(ix.chain, func() registry.StakeExtension { return ix.reg.StakeRecord(agent) })
	amount := rec.StakedAmount.String()
	unlock := int64(rec.StakeUnlockTime)
	return &storage.AgentPatch{Address: agent.Hex(), StakedAmount: &amount, StakeUnlockTime: &unlock, UpdatedAt: at}
}
