package client

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssd-technologies/agentpulse/internal/access"
	"github.com/ssd-technologies/agentpulse/internal/agent"
	"github.com/ssd-technologies/agentpulse/internal/ledger"
)

func TestAdminCalls(t *testing.T) {
	user := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{4}, ed25519.SeedSize))
	c, n, _ := startNode(t, user)
	ctx := context.Background()
	userAddr := agent.AddressFromPublicKey(user.Public().(ed25519.PublicKey))

	rcpt, err := c.Pause(ctx, ownerKey, "registry")
	require.NoError(t, err)
	require.Len(t, rcpt.Logs, 1)
	assert.Equal(t, "Paused", rcpt.Logs[0].Name)
	assert.True(t, ledger.Read(n.Chain, n.Registry.Paused))

	_, err = c.Approve(ctx, user, "registry", whole(10))
	require.NoError(t, err)
	_, err = c.Pulse(ctx, user, whole(1))
	var rerr *RevertError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, http.StatusConflict, rerr.StatusCode)

	_, err = c.Unpause(ctx, ownerKey, "registry")
	require.NoError(t, err)
	_, err = c.Pulse(ctx, user, whole(1))
	require.NoError(t, err)

	_, err = c.SetTTL(ctx, ownerKey, 7200)
	require.NoError(t, err)
	_, err = c.SetMinPulseAmount(ctx, ownerKey, whole(2))
	require.NoError(t, err)
	_, err = c.SetFeeBps(ctx, ownerKey, 0)
	require.NoError(t, err)
	_, err = c.SetFeeWallet(ctx, ownerKey, userAddr.Hex())
	require.NoError(t, err)
	_, err = c.SetMinBurn(ctx, ownerKey, whole(3))
	require.NoError(t, err)

	assert.Equal(t, uint64(7200), ledger.Read(n.Chain, n.Registry.TTL))
	assert.Equal(t, whole(2).String(), ledger.Read(n.Chain, n.Registry.MinPulseAmount).String())
	assert.Equal(t, uint64(0), ledger.Read(n.Chain, n.Burner.FeeBps))
	assert.Equal(t, userAddr, ledger.Read(n.Chain, n.Burner.FeeWallet))
	assert.Equal(t, whole(3).String(), ledger.Read(n.Chain, n.Burner.MinBurn).String())
}

func TestAdminCallsRejectNonOwner(t *testing.T) {
	user := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{5}, ed25519.SeedSize))
	c, _, _ := startNode(t, user)

	_, err := c.Pause(context.Background(), user, "burner")
	var rerr *RevertError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, http.StatusForbidden, rerr.StatusCode)
	assert.Equal(t, access.ErrNotOwner.Error(), rerr.Reason)
}

func TestAdminOwnershipTransfer(t *testing.T) {
	next := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{6}, ed25519.SeedSize))
	c, n, _ := startNode(t, next)
	ctx := context.Background()
	nextAddr := agent.AddressFromPublicKey(next.Public().(ed25519.PublicKey))

	_, err := c.TransferOwnership(ctx, ownerKey, "token", nextAddr.Hex())
	require.NoError(t, err)
	assert.Equal(t, nextAddr, ledger.Read(n.Chain, n.Token.PendingOwner))

	_, err = c.AcceptOwnership(ctx, next, "token")
	require.NoError(t, err)
	assert.Equal(t, nextAddr, ledger.Read(n.Chain, n.Token.Owner))
}
