package indexer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ssd-technologies/agentpulse/internal/ledger"
	"github.com/ssd-technologies/agentpulse/internal/registry"
	"github.com/ssd-technologies/agentpulse/internal/storage"
)

// Lookup sources.
const (
	SourceCache    = "cache"
	SourceRegistry = "registry"
)

// AgentView is a cached agent row with liveness derived at read time.
type AgentView struct {
	storage.Agent
	Alive     bool   `json:"alive"`
	TTL       uint64 `json:"ttl"`
	Staleness uint64 `json:"staleness"`
	Source    string `json:"source"`
}

// liveWindow is the block time and TTL read together under one lock.
type liveWindow struct{ now, ttl uint64 }

// Lookup returns the cached view of agent, refreshing it from the registry
// when the row is missing or older than the staleness budget.
func (ix *Indexer) Lookup(ctx context.Context, agent ledger.Address) (*AgentView, error) {
	row, err := ix.db.GetAgent(ctx, agent.Hex())
	source := SourceCache
	switch {
	case storage.IsNotFound(err):
		row, source = nil, SourceRegistry
	case err != nil:
		return nil, err
	case ix.now().Sub(time.Unix(row.UpdatedAt, 0)) > ix.staleness:
		source = SourceRegistry
	}
	if source == SourceRegistry {
		if row, err = ix.Refresh(ctx, agent); err != nil {
			return nil, err
		}
	}

	w := ledger.Read(ix.chain, func() liveWindow { return liveWindow{now: ix.chain.Now(), ttl: ix.reg.TTL()} })
	now, ttl := w.now, w.ttl
	status := registry.AgentStatus{LastPulseAt: uint64(row.LastPulseAt)}
	v := &AgentView{Agent: *row, TTL: ttl, Source: source}
	v.Alive = registry.Alive(status, now, ttl)
	if row.LastPulseAt > 0 && now > uint64(row.LastPulseAt) {
		v.Staleness = now - uint64(row.LastPulseAt)
	}
	if !v.Alive {
		v.Score = 0
		v.Tier = registry.TierBasic.String()
	}
	return v, nil
}

// Refresh reads agent straight from the registry and rewrites its row.
func (ix *Indexer) Refresh(ctx context.Context, agent ledger.Address) (*storage.Agent, error) {
	row := ledger.Read(ix.chain, func() storage.Agent {
		rec := ix.reg.AgentRecord(agent)
		stake := ix.reg.StakeRecord(agent)
		score := ix.reg.GetReliabilityScore(agent)
		return storage.Agent{
			Address:         agent.Hex(),
			LastPulseAt:     int64(rec.LastPulseAt),
			Streak:          int64(rec.Streak),
			TotalBurned:     rec.TotalBurned.String(),
			StakedAmount:    stake.StakedAmount.String(),
			StakeUnlockTime: int64(stake.StakeUnlockTime),
			Score:           int64(score),
			Tier:            registry.TierFor(score).String(),
		}
	})
	row.UpdatedAt = ix.now().Unix()
	if err := ix.db.UpsertAgent(ctx, &row); err != nil {
		return nil, err
	}
	return &row, nil
}

// StartWorkers launches the reconcile loop. Call with a cancellable
// context for graceful shutdown.
func (ix *Indexer) StartWorkers(ctx context.Context) {
	go ix.runReconcile(ctx)
}

// runReconcile periodically refreshes rows older than the staleness budget.
func (ix *Indexer) runReconcile(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(ix.interval):
			n := ix.Reconcile(ctx)
			if n > 0 {
				ix.logger.Info("reconciled stale agents", zap.Int("count", n))
			}
		}
	}
}

// Reconcile refreshes one batch of stale rows and returns how many were
// rewritten.
func (ix *Indexer) Reconcile(ctx context.Context) int {
	cutoff := ix.now().Add(-ix.staleness).Unix()
	stale, err := ix.db.StaleAgents(ctx, cutoff, ix.batch)
	if err != nil {
		ix.logger.Warn("list stale agents", zap.Error(err))
		return 0
	}
	refreshed := 0
	for _, addr := range stale {
		a, err := ledger.ParseAddress(addr)
		if err != nil {
			ix.logger.Warn("skip malformed cached address", zap.String("address", addr), zap.Error(err))
			continue
		}
		if _, err := ix.Refresh(ctx, a); err != nil {
			ix.logger.Warn("refresh agent", zap.String("address", addr), zap.Error(err))
			continue
		}
		refreshed++
	}
	return refreshed
}
