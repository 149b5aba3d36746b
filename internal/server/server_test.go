package server

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
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
	"github.com/ssd-technologies/agentpulse/internal/storage"
)

var (
	ownerKey = seededKey(3)
	owner    = agent.AddressFromPublicKey(ownerKey.Public().(ed25519.PublicKey))
)

func whole(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), registry.ScoreUnit) }

func seededKey(b byte) ed25519.PrivateKey {
	return ed25519.NewKeyFromSeed(bytes.Repeat([]byte{b}, ed25519.SeedSize))
}

type fixture struct {
	n     *node.Node
	clock *ledger.ManualClock
	db    *storage.DB
	ix    *indexer.Indexer
	srv   *Server

	aliceKey, bobKey ed25519.PrivateKey
	alice, bob       ledger.Address
}

func newFixture(t *testing.T, tweak func(*config.Config)) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fixture{aliceKey: seededKey(1), bobKey: seededKey(2)}
	f.alice = agent.AddressFromPublicKey(f.aliceKey.Public().(ed25519.PublicKey))
	f.bob = agent.AddressFromPublicKey(f.bobKey.Public().(ed25519.PublicKey))

	cfg := config.DefaultConfig()
	cfg.Chain.Owner = owner.Hex()
	cfg.Chain.Genesis = []config.Allocation{
		{Address: f.alice.Hex(), Amount: whole(1000).String()},
		{Address: f.bob.Hex(), Amount: whole(1000).String()},
	}
	if tweak != nil {
		tweak(cfg)
	}

	f.clock = ledger.NewManualClock(time.Unix(19676*86400, 0))
	n, err := node.Deploy(cfg, f.clock, nil)
	require.NoError(t, err)
	f.n = n

	db, err := storage.NewDB(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	f.db = db

	f.ix = indexer.New(n.Chain, n.Registry, db, indexer.Options{})
	f.srv = New(cfg.Server, n, f.ix, db, nil)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) post(t *testing.T, key ed25519.PrivateKey, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	if key != nil {
		agent.SignRequest(req, key, b)
	}
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) approveAndPulse(t *testing.T, key ed25519.PrivateKey, amount *big.Int) {
	t.Helper()
	rec := f.post(t, key, "/api/v2/tx/approve", ApproveRequest{Spender: "registry", Amount: whole(100).String()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = f.post(t, key, "/api/v2/tx/pulse", AmountRequest{Amount: amount.String()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.get(t, "/api/health")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "agentpulse", body["service"])
	assert.NotEmpty(t, rec.Header().Get(headerRequestID))
}

func TestRequestIDIsEchoed(t *testing.T) {
	f := newFixture(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set(headerRequestID, "req-42")
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get(headerRequestID))
}

func TestAliveUnknownAgent(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.get(t, "/api/v2/agent/"+f.alice.Hex()+"/alive")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[AliveResponse](t, rec)
	assert.False(t, resp.Alive)
	assert.False(t, resp.IsAlive)
	assert.Zero(t, resp.LastPulse)
	assert.Equal(t, uint64(registry.DefaultTTL), resp.TTL)
	assert.Equal(t, indexer.SourceRegistry, resp.Source)
}

func TestAliveRejectsMalformedAddress(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.get(t, "/api/v2/agent/0x1234/alive")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPulseThroughAPI(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.post(t, f.aliceKey, "/api/v2/tx/approve", ApproveRequest{Spender: "registry", Amount: whole(10).String()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.post(t, f.aliceKey, "/api/v2/tx/pulse", AmountRequest{Amount: whole(1).String()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var receipt struct {
		Sender string `json:"sender"`
		Logs   []struct {
			Name     string `json:"name"`
			LogIndex uint   `json:"log_index"`
			TxHash   string `json:"tx_hash"`
		} `json:"logs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &receipt))
	assert.Equal(t, f.alice.Hex(), receipt.Sender)
	require.Len(t, receipt.Logs, 3)
	names := []string{receipt.Logs[0].Name, receipt.Logs[1].Name, receipt.Logs[2].Name}
	assert.Equal(t, []string{"Pulse", "ReliabilityUpdate", "Transfer"}, names)
	for i, l := range receipt.Logs {
		assert.Equal(t, uint(i), l.LogIndex)
		assert.NotEmpty(t, l.TxHash)
	}

	alive := decode[AliveResponse](t, f.get(t, "/api/v2/agent/"+f.alice.Hex()+"/alive"))
	assert.True(t, alive.Alive)
	assert.True(t, alive.IsAlive)
	assert.Equal(t, int64(f.clock.Now().Unix()), alive.LastPulse)
	assert.Equal(t, alive.LastPulse, alive.LastPulseTimestamp)
	assert.Equal(t, int64(1), alive.Streak)
	assert.Equal(t, int64(1), alive.StreakCount)

	rel := decode[ReliabilityResponse](t, f.get(t, "/api/v2/agent/"+f.alice.Hex()+"/reliability"))
	assert.Equal(t, registry.Breakdown{Streak: 1, Volume: 1, Stake: 0, Total: 2}, rel.Breakdown)
	assert.Equal(t, uint64(2), rel.Score)
	assert.Equal(t, registry.TierBasic, rel.Tier)
	assert.False(t, rel.Verified)
}

func TestAliveReflectsTTLExpiry(t *testing.T) {
	f := newFixture(t, nil)
	f.approveAndPulse(t, f.aliceKey, whole(1))

	f.clock.Advance(time.Duration(registry.DefaultTTL+1) * time.Second)
	alive := decode[AliveResponse](t, f.get(t, "/api/v2/agent/"+f.alice.Hex()+"/alive"))
	assert.False(t, alive.Alive)
	assert.Equal(t, uint64(registry.DefaultTTL+1), alive.Staleness)
}

func TestUnsignedTransactionRejected(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.post(t, nil, "/api/v2/tx/pulse", AmountRequest{Amount: whole(1).String()})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTamperedTransactionRejected(t *testing.T) {
	f := newFixture(t, nil)
	signed := []byte(`{"amount":"1"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v2/tx/burn", bytes.NewReader([]byte(`{"amount":"2"}`)))
	agent.SignRequest(req, f.aliceKey, signed)
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestReplayedTransactionRejected(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.post(t, f.aliceKey, "/api/v2/tx/approve", ApproveRequest{Spender: "registry", Amount: whole(100).String()})
	require.Equal(t, http.StatusOK, rec.Code)

	body := []byte(`{"amount":"` + whole(5).String() + `"}`)
	signed := httptest.NewRequest(http.MethodPost, "/api/v2/tx/pulse", nil)
	agent.SignRequest(signed, f.aliceKey, body)
	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v2/tx/pulse", bytes.NewReader(body))
		req.Header = signed.Header.Clone()
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		f.srv.ServeHTTP(rec, req)
		return rec
	}

	rec = send()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	for i := 0; i < 3; i++ {
		rec = send()
		assert.Equal(t, http.StatusConflict, rec.Code, "resend %d: %s", i, rec.Body.String())
	}
	assert.Equal(t, whole(995).String(), f.n.Balance(f.alice).String())
}

func TestRevertSurfacesDetails(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.post(t, f.aliceKey, "/api/v2/tx/pulse", AmountRequest{Amount: "5"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	resp := decode[RevertResponse](t, rec)
	assert.Equal(t, registry.ErrBelowMinimum.Error(), resp.Reason)
	assert.Equal(t, "5", resp.Details["provided"])
	assert.Equal(t, registry.DefaultMinPulseAmount.String(), resp.Details["minimum"])
	assert.Contains(t, resp.Error, "provided=5")
}

func TestBadRequestBodies(t *testing.T) {
	f := newFixture(t, nil)
	cases := []struct {
		path string
		body any
	}{
		{"/api/v2/tx/pulse", map[string]string{}},
		{"/api/v2/tx/pulse", AmountRequest{Amount: "lots"}},
		{"/api/v2/tx/approve", ApproveRequest{Spender: "nobody", Amount: "1"}},
		{"/api/v2/tx/approve", ApproveRequest{Spender: "token", Amount: "1"}},
		{"/api/v2/tx/attest", map[string]string{"subject": f.bob.Hex()}},
		{"/api/v2/tx/attest", map[string]any{"subject": "0xnope", "positive": true}},
	}
	for _, tc := range cases {
		rec := f.post(t, f.aliceKey, tc.path, tc.body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "%s %v: %s", tc.path, tc.body, rec.Body.String())
	}
}

func TestStakeLockedMapsToLocked(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.post(t, f.aliceKey, "/api/v2/tx/approve", ApproveRequest{Spender: "registry", Amount: whole(5).String()})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.post(t, f.aliceKey, "/api/v2/tx/stake", AmountRequest{Amount: whole(5).String()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	stake := decode[StakeResponse](t, f.get(t, "/api/v2/agent/"+f.alice.Hex()+"/stake"))
	assert.Equal(t, whole(5).String(), stake.Amount)
	assert.True(t, stake.Locked)

	rec = f.post(t, f.aliceKey, "/api/v2/tx/unstake", AmountRequest{Amount: whole(1).String()})
	require.Equal(t, http.StatusLocked, rec.Code)
	resp := decode[RevertResponse](t, rec)
	assert.Equal(t, registry.ErrStakeLocked.Error(), resp.Reason)
	assert.Equal(t, stake.UnlockTime, mustUint(t, resp.Details["unlock_time"]))

	f.clock.Advance(time.Duration(registry.DefaultStakeLockup) * time.Second)
	rec = f.post(t, f.aliceKey, "/api/v2/tx/unstake", AmountRequest{Amount: whole(5).String()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func mustUint(t *testing.T, s string) uint64 {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	require.True(t, ok, s)
	return v.Uint64()
}

func TestAttestationFlow(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.ix.Run(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	f.approveAndPulse(t, f.aliceKey, whole(1))
	f.approveAndPulse(t, f.bobKey, whole(1))

	positive := true
	rec := f.post(t, f.aliceKey, "/api/v2/tx/attest", AttestRequest{Subject: f.bob.Hex(), Positive: &positive})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.post(t, f.aliceKey, "/api/v2/tx/attest", AttestRequest{Subject: f.bob.Hex(), Positive: &positive})
	assert.Equal(t, http.StatusConflict, rec.Code)

	self := f.post(t, f.aliceKey, "/api/v2/tx/attest", AttestRequest{Subject: f.alice.Hex(), Positive: &positive})
	assert.Equal(t, http.StatusUnprocessableEntity, self.Code)

	require.Eventually(t, func() bool {
		c, err := f.db.Cursor(context.Background())
		return err == nil && c >= f.n.Chain.LastSeq()
	}, 5*time.Second, 10*time.Millisecond)

	resp := decode[AttestationsResponse](t, f.get(t, "/api/v2/agent/"+f.bob.Hex()+"/attestations"))
	assert.Equal(t, uint64(2), resp.PositiveWeight)
	assert.Zero(t, resp.NegativeWeight)
	assert.Equal(t, "2", resp.NetScore)
	require.Len(t, resp.Recent, 1)
	assert.Equal(t, "AttestationSubmitted", resp.Recent[0].Name)

	// Later pulses by the subject must not crowd the attestation out of a
	// small page.
	for i := 0; i < 3; i++ {
		f.approveAndPulse(t, f.bobKey, whole(1))
	}
	require.Eventually(t, func() bool {
		c, err := f.db.Cursor(context.Background())
		return err == nil && c >= f.n.Chain.LastSeq()
	}, 5*time.Second, 10*time.Millisecond)
	resp = decode[AttestationsResponse](t, f.get(t, "/api/v2/agent/"+f.bob.Hex()+"/attestations?limit=5"))
	require.Len(t, resp.Recent, 1)
	assert.Equal(t, "AttestationSubmitted", resp.Recent[0].Name)

	rec = f.get(t, "/api/v2/agent/"+f.bob.Hex()+"/attestations?limit=0")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBurnThroughAPI(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.post(t, f.aliceKey, "/api/v2/tx/approve", ApproveRequest{Spender: "burner", Amount: whole(100).String()})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.post(t, f.aliceKey, "/api/v2/tx/burn", AmountRequest{Amount: whole(100).String()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, whole(1), f.n.Balance(owner))
	assert.Equal(t, whole(99), f.n.Balance(ledger.DeadAddress))
}

func TestRegistryEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	f.approveAndPulse(t, f.aliceKey, whole(1))

	resp := decode[RegistryResponse](t, f.get(t, "/api/v2/registry"))
	assert.Equal(t, uint64(registry.DefaultTTL), resp.TTL)
	assert.Equal(t, registry.DefaultMinPulseAmount.String(), resp.MinPulseAmount)
	assert.Equal(t, 1, resp.AgentCount)
	assert.Equal(t, []ledger.Address{f.alice}, resp.Agents)
	assert.False(t, resp.Paused)
	assert.Equal(t, f.n.Registry.Address(), resp.Contracts["registry"])
	assert.Equal(t, uint64(100), resp.FeeBps)
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Server.RateLimit = 2 })
	assert.Equal(t, http.StatusOK, f.get(t, "/api/health").Code)
	assert.Equal(t, http.StatusOK, f.get(t, "/api/health").Code)
	rec := f.get(t, "/api/health")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}
