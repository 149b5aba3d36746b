package client

import (
	"context"
	"crypto/ed25519"
	"math/big"
)

// Owner-only calls. contract is "token", "registry" or "burner"; the node
// answers 403 unless key belongs to that contract's owner.

type addressBody struct {
	Address string `json:"address"`
}

func (c *Client) admin(ctx context.Context, key ed25519.PrivateKey, path string, body any) (*Receipt, error) {
	if body == nil {
		body = struct{}{}
	}
	return c.Submit(ctx, key, "admin/"+path, body)
}

// Pause suspends value-moving calls on the registry or the burner.
func (c *Client) Pause(ctx context.Context, key ed25519.PrivateKey, contract string) (*Receipt, error) {
	return c.admin(ctx, key, contract+"/pause", nil)
}

// Unpause resumes a paused contract.
func (c *Client) Unpause(ctx context.Context, key ed25519.PrivateKey, contract string) (*Receipt, error) {
	return c.admin(ctx, key, contract+"/unpause", nil)
}

// TransferOwnership nominates newOwner; it takes effect once they accept.
func (c *Client) TransferOwnership(ctx context.Context, key ed25519.PrivateKey, contract, newOwner string) (*Receipt, error) {
	return c.admin(ctx, key, contract+"/transfer-ownership", addressBody{newOwner})
}

// AcceptOwnership completes a nomination made to key's address.
func (c *Client) AcceptOwnership(ctx context.Context, key ed25519.PrivateKey, contract string) (*Receipt, error) {
	return c.admin(ctx, key, contract+"/accept-ownership", nil)
}

// SetTTL changes the registry liveness window, in seconds.
func (c *Client) SetTTL(ctx context.Context, key ed25519.PrivateKey, seconds uint64) (*Receipt, error) {
	return c.admin(ctx, key, "registry/ttl", struct {
		TTL uint64 `json:"ttl"`
	}{seconds})
}

// SetMinPulseAmount changes the registry pulse floor.
func (c *Client) SetMinPulseAmount(ctx context.Context, key ed25519.PrivateKey, amount *big.Int) (*Receipt, error) {
	return c.admin(ctx, key, "registry/min-pulse", amountBody{amount.String()})
}

// SetFeeWallet changes where burner fees go.
func (c *Client) SetFeeWallet(ctx context.Context, key ed25519.PrivateKey, wallet string) (*Receipt, error) {
	return c.admin(ctx, key, "burner/fee-wallet", addressBody{wallet})
}

// SetFeeBps changes the burner fee rate.
func (c *Client) SetFeeBps(ctx context.Context, key ed25519.PrivateKey, bps uint64) (*Receipt, error) {
	return c.admin(ctx, key, "burner/fee-bps", struct {
		FeeBps uint64 `json:"fee_bps"`
	}{bps})
}

// SetMinBurn changes the burner floor.
func (c *Client) SetMinBurn(ctx context.Context, key ed25519.PrivateKey, amount *big.Int) (*Receipt, error) {
	return c.admin(ctx, key, "burner/min-burn", amountBody{amount.String()})
}
