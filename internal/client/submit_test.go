package client

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssd-technologies/agentpulse/internal/agent"
	"github.com/ssd-technologies/agentpulse/internal/config"
	"github.com/ssd-technologies/agentpulse/internal/indexer"
	"github.com/ssd-technologies/agentpulse/internal/ledger"
	"github.com/ssd-technologies/agentpulse/internal/node"
	"github.com/ssd-technologies/agentpulse/internal/registry"
	"github.com/ssd-technologies/agentpulse/internal/server"
	"github.com/ssd-technologies/agentpulse/internal/storage"
)

func whole(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), registry.ScoreUnit) }

// ownerKey owns every contract startNode deploys.
var ownerKey = ed25519.NewKeyFromSeed(bytes.Repeat([]byte{1}, ed25519.SeedSize))

// startNode serves a freshly deployed node and funds key's address.
func startNode(t *testing.T, keys ...ed25519.PrivateKey) (*Client, *node.Node, *ledger.ManualClock) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := config.DefaultConfig()
	cfg.Chain.Owner = agent.AddressFromPublicKey(ownerKey.Public().(ed25519.PublicKey)).Hex()
	for _, k := range keys {
		a := agent.AddressFromPublicKey(k.Public().(ed25519.PublicKey))
		cfg.Chain.Genesis = append(cfg.Chain.Genesis, config.Allocation{Address: a.Hex(), Amount: whole(100).String()})
	}
	clock := ledger.NewManualClock(time.Now())
	n, err := node.Deploy(cfg, clock, nil)
	require.NoError(t, err)

	db, err := storage.NewDB(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	srv := server.New(cfg.Server, n, indexer.New(n.Chain, n.Registry, db, indexer.Options{}), db, nil)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	t.Cleanup(srv.Close)
	return New(Options{BaseURL: ts.URL, MaxRetries: -1}), n, clock
}

func TestSubmitPulseAndFilter(t *testing.T) {
	alive := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{7}, ed25519.SeedSize))
	idle := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{8}, ed25519.SeedSize))
	c, n, clock := startNode(t, alive, idle)
	ctx := context.Background()
	addr := agent.AddressFromPublicKey(alive.Public().(ed25519.PublicKey))
	idleAddr := agent.AddressFromPublicKey(idle.Public().(ed25519.PublicKey))

	_, err := c.Approve(ctx, alive, "registry", whole(10))
	require.NoError(t, err)
	rcpt, err := c.Pulse(ctx, alive, whole(1))
	require.NoError(t, err)
	assert.Equal(t, addr.Hex(), rcpt.Sender)
	require.Len(t, rcpt.Logs, 3)
	assert.Equal(t, "Pulse", rcpt.Logs[0].Name)
	assert.Equal(t, rcpt.TxHash, rcpt.Logs[0].TxHash)

	st, err := c.GetAgentStatus(ctx, addr.Hex())
	require.NoError(t, err)
	require.NotNil(t, st.Alive)
	assert.True(t, *st.Alive)
	assert.Equal(t, clock.Now().Unix(), *st.LastPulseAt)
	assert.Equal(t, int64(1), *st.StreakCount)

	rel, err := c.GetReliability(ctx, addr.Hex())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), rel.Score)
	assert.Equal(t, "Basic", rel.Tier)

	opts := DefaultFilterOptions()
	opts.Now = clock.Now
	got, err := c.FilterAddresses(ctx, []string{idleAddr.Hex(), addr.Hex()}, time.Hour, opts)
	require.NoError(t, err)
	assert.Equal(t, []string{addr.Hex()}, got)
	assert.Equal(t, 1, ledger.Read(n.Chain, n.Registry.AgentCount))
}

func TestSubmitRevert(t *testing.T) {
	key := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{9}, ed25519.SeedSize))
	c, _, _ := startNode(t, key)

	_, err := c.Pulse(context.Background(), key, big.NewInt(1))
	var rerr *RevertError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, http.StatusUnprocessableEntity, rerr.StatusCode)
	assert.Equal(t, registry.ErrBelowMinimum.Error(), rerr.Reason)
	assert.Equal(t, "1", rerr.Details["provided"])
	assert.Contains(t, rerr.Error(), "minimum=")
}
