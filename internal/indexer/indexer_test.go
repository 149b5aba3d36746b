package indexer

import (
	"context"
	"math/big"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ssd-technologies/agentpulse/internal/config"
	"github.com/ssd-technologies/agentpulse/internal/ledger"
	"github.com/ssd-technologies/agentpulse/internal/node"
	"github.com/ssd-technologies/agentpulse/internal/registry"
	"github.com/ssd-technologies/agentpulse/internal/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	owner = ledger.MustParseAddress("0x0000000000000000000000000000000000000001")
	alice = ledger.MustParseAddress("0x00000000000000000000000000000000000a11ce")
	bob   = ledger.MustParseAddress("0x0000000000000000000000000000000000000b0b")
)

func whole(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), registry.ScoreUnit) }

// wallClock is a settable stand-in for time.Now.
type wallClock struct {
	mu sync.Mutex
	t  time.Time
}

func (w *wallClock) Now() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.t
}

func (w *wallClock) Advance(d time.Duration) {
	w.mu.Lock()
	w.t = w.t.Add(d)
	w.mu.Unlock()
}

type fixture struct {
	n     *node.Node
	clock *ledger.ManualClock
	wall  *wallClock
	db    *storage.DB
	ix    *Indexer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Chain.Owner = owner.Hex()
	cfg.Chain.Genesis = []config.Allocation{
		{Address: alice.Hex(), Amount: whole(1000).String()},
		{Address: bob.Hex(), Amount: whole(1000).String()},
	}
	clock := ledger.NewManualClock(time.Unix(19676*86400, 0))
	n, err := node.Deploy(cfg, clock, nil)
	require.NoError(t, err)

	db, err := storage.NewDB(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	wall := &wallClock{t: time.Unix(1_800_000_000, 0)}
	ix := New(n.Chain, n.Registry, db, Options{
		Staleness: time.Minute,
		Now:       wall.Now,
	})
	return &fixture{n: n, clock: clock, wall: wall, db: db, ix: ix}
}

func (f *fixture) pulse(t *testing.T, agent ledger.Address, amount *big.Int) {
	t.Helper()
	_, err := f.n.Chain.Execute(agent, func(tx *ledger.Tx) error {
		if _, err := f.n.Token.Approve(tx, f.n.Registry.Address(), amount); err != nil {
			return err
		}
		return f.n.Registry.Pulse(tx, amount)
	})
	require.NoError(t, err)
}

func (f *fixture) stake(t *testing.T, agent ledger.Address, amount *big.Int) {
	t.Helper()
	_, err := f.n.Chain.Execute(agent, func(tx *ledger.Tx) error {
		if _, err := f.n.Token.Approve(tx, f.n.Registry.Address(), amount); err != nil {
			return err
		}
		return f.n.Registry.Stake(tx, amount)
	})
	require.NoError(t, err)
}

// run starts the indexer and returns a stop function that waits for it.
func (f *fixture) run(t *testing.T) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.ix.Run(ctx) }()
	return func() {
		cancel()
		require.NoError(t, <-done)
	}
}

func (f *fixture) waitCursor(t *testing.T, seq uint64) {
	t.Helper()
	require.Eventually(t, func() bool {
		c, err := f.db.Cursor(context.Background())
		return err == nil && c >= seq
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRunIndexesLiveEvents(t *testing.T) {
	f := newFixture(t)
	stop := f.run(t)
	defer stop()

	f.pulse(t, alice, whole(3))
	f.stake(t, alice, whole(5))
	f.waitCursor(t, f.n.Chain.LastSeq())

	row, err := f.db.GetAgent(context.Background(), alice.Hex())
	require.NoError(t, err)
	assert.Equal(t, int64(1), row.Streak)
	assert.Equal(t, whole(3).String(), row.TotalBurned)
	assert.Equal(t, whole(5).String(), row.StakedAmount)
	assert.Equal(t, int64(f.n.Registry.StakeUnlockTime(alice)), row.StakeUnlockTime)
	assert.Equal(t, int64(f.n.Registry.GetReliabilityScore(alice)), row.Score)

	events, err := f.db.ListEvents(context.Background(), alice.Hex(), 50)
	require.NoError(t, err)
	names := map[string]bool{}
	for _, e := range events {
		names[e.Name] = true
	}
	assert.True(t, names["Pulse"])
	assert.True(t, names["ReliabilityUpdate"])
	assert.True(t, names["Staked"])
}

func TestBackfillFromCursorOnStart(t *testing.T) {
	f := newFixture(t)
	f.pulse(t, alice, whole(1))
	f.pulse(t, bob, whole(2))

	stop := f.run(t)
	f.waitCursor(t, f.n.Chain.LastSeq())
	stop()

	n, err := f.db.CountEvents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(f.n.Chain.LastSeq()), n)

	// a restart resumes from the stored cursor without duplicating
	f.pulse(t, bob, whole(1))
	ix := New(f.n.Chain, f.n.Registry, f.db, Options{Now: f.wall.Now})
	f.ix = ix
	stop = f.run(t)
	f.waitCursor(t, f.n.Chain.LastSeq())
	stop()

	n, _ = f.db.CountEvents(context.Background())
	assert.Equal(t, int64(f.n.Chain.LastSeq()), n)
}

func TestDuplicateDeliveryIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.pulse(t, alice, whole(1))
	logs := f.n.Chain.LogsSince(0)
	require.NotEmpty(t, logs)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		for _, l := range logs {
			require.NoError(t, f.ix.process(ctx, l))
		}
	}
	n, err := f.db.CountEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(len(logs)), n)
}

func TestGapTriggersBackfill(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ix.Backfill(ctx))
	start := f.ix.last

	f.pulse(t, alice, whole(1))
	f.pulse(t, alice, whole(1))
	logs := f.n.Chain.LogsSince(start)
	require.Greater(t, len(logs), 2)

	// the missed logs are recovered from chain history
	require.NoError(t, f.ix.Backfill(ctx))
	assert.Equal(t, logs[len(logs)-1].Seq, f.ix.last)
	n, _ := f.db.CountEvents(ctx)
	assert.Equal(t, int64(f.n.Chain.LastSeq()), n)
}

func TestLookupReadThrough(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.pulse(t, alice, whole(1))

	v, err := f.ix.Lookup(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, SourceRegistry, v.Source)
	assert.True(t, v.Alive)
	assert.Equal(t, int64(1), v.Streak)
	assert.Equal(t, registry.DefaultTTL, v.TTL)

	v, err = f.ix.Lookup(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, SourceCache, v.Source)

	f.wall.Advance(2 * time.Minute)
	v, err = f.ix.Lookup(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, SourceRegistry, v.Source)
}

func TestLookupUnknownAgent(t *testing.T) {
	f := newFixture(t)
	v, err := f.ix.Lookup(context.Background(), bob)
	require.NoError(t, err)
	assert.False(t, v.Alive)
	assert.Zero(t, v.Score)
	assert.Equal(t, "0", v.TotalBurned)
}

func TestLookupRederivesLiveness(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.pulse(t, alice, whole(1))
	_, err := f.ix.Lookup(ctx, alice)
	require.NoError(t, err)

	// the cached row is still fresh but the TTL has passed on chain
	f.clock.Advance(25 * time.Hour)
	v, err := f.ix.Lookup(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, SourceCache, v.Source)
	assert.False(t, v.Alive)
	assert.Zero(t, v.Score)
	assert.Equal(t, "Basic", v.Tier)
	assert.Equal(t, uint64(25*3600), v.Staleness)
}

func TestReconcileRefreshesStaleRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.pulse(t, alice, whole(1))
	f.pulse(t, bob, whole(1))
	require.NoError(t, f.ix.Backfill(ctx))

	assert.Zero(t, f.ix.Reconcile(ctx))

	f.wall.Advance(2 * time.Minute)
	assert.Equal(t, 2, f.ix.Reconcile(ctx))
	assert.Zero(t, f.ix.Reconcile(ctx))
}

func TestStartWorkersStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	f.ix.interval = 5 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	f.ix.StartWorkers(ctx)
	time.Sleep(20 * time.Millisecond)
	cancel()
	// goleak in TestMain asserts the loop exits
	time.Sleep(20 * time.Millisecond)
}
