package token

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssd-technologies/agentpulse/internal/access"
	"github.com/ssd-technologies/agentpulse/internal/ledger"
)

var (
	tokenAddr = ledger.MustParseAddress("0x0000000000000000000000000000000000007070")
	owner     = ledger.MustParseAddress("0x0000000000000000000000000000000000000001")
	alice     = ledger.MustParseAddress("0x00000000000000000000000000000000000a11ce")
	bob       = ledger.MustParseAddress("0x0000000000000000000000000000000000000b0b")
	vault     = ledger.MustParseAddress("0x000000000000000000000000000000000000fa17")
)

func newToken(t *testing.T) (*ledger.Chain, *Token) {
	t.Helper()
	chain := ledger.NewChain(ledger.NewManualClock(time.Unix(1_700_000_000, 0)))
	tok := New(tokenAddr, owner, "Pulse", "PULSE", 18)
	_, err := chain.Execute(owner, func(tx *ledger.Tx) error {
		return tok.Mint(tx, alice, big.NewInt(1000))
	})
	require.NoError(t, err)
	return chain, tok
}

func TestMintAndSupply(t *testing.T) {
	chain, tok := newToken(t)
	assert.Equal(t, "1000", tok.BalanceOf(alice).String())
	assert.Equal(t, "1000", tok.TotalSupply().String())
	assert.Equal(t, "PULSE", tok.Symbol())
	assert.Equal(t, uint8(18), tok.Decimals())

	_, err := chain.Execute(alice, func(tx *ledger.Tx) error {
		return tok.Mint(tx, alice, big.NewInt(1))
	})
	require.ErrorIs(t, err, access.ErrNotOwner)
}

func TestTransfer(t *testing.T) {
	chain, tok := newToken(t)
	rcpt, err := chain.Execute(alice, func(tx *ledger.Tx) error {
		_, err := tok.Transfer(tx, bob, big.NewInt(300))
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "700", tok.BalanceOf(alice).String())
	assert.Equal(t, "300", tok.BalanceOf(bob).String())
	require.Len(t, rcpt.Logs, 1)
	assert.Equal(t, "Transfer", rcpt.Logs[0].Name())

	_, err = chain.Execute(bob, func(tx *ledger.Tx) error {
		_, err := tok.Transfer(tx, alice, big.NewInt(301))
		return err
	})
	require.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, "300", tok.BalanceOf(bob).String())

	_, err = chain.Execute(bob, func(tx *ledger.Tx) error {
		_, err := tok.Transfer(tx, ledger.ZeroAddress, big.NewInt(1))
		return err
	})
	require.ErrorIs(t, err, ErrInvalidReceiver)
}

func TestSelfTransferKeepsBalance(t *testing.T) {
	chain, tok := newToken(t)
	_, err := chain.Execute(alice, func(tx *ledger.Tx) error {
		_, err := tok.Transfer(tx, alice, big.NewInt(400))
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "1000", tok.BalanceOf(alice).String())
}

func TestTransferFromSpendsAllowance(t *testing.T) {
	chain, tok := newToken(t)
	_, err := chain.Execute(alice, func(tx *ledger.Tx) error {
		_, err := tok.Approve(tx, bob, big.NewInt(500))
		return err
	})
	require.NoError(t, err)

	_, err = chain.Execute(bob, func(tx *ledger.Tx) error {
		_, err := tok.TransferFrom(tx, alice, vault, big.NewInt(200))
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "300", tok.Allowance(alice, bob).String())
	assert.Equal(t, "200", tok.BalanceOf(vault).String())

	_, err = chain.Execute(bob, func(tx *ledger.Tx) error {
		_, err := tok.TransferFrom(tx, alice, vault, big.NewInt(301))
		return err
	})
	var rev *ledger.Revert
	require.ErrorAs(t, err, &rev)
	assert.ErrorIs(t, err, ErrInsufficientAllowance)
	assert.Equal(t, "300", rev.Detail("allowance"))
	assert.Equal(t, "301", rev.Detail("needed"))
}

func TestBurn(t *testing.T) {
	chain, tok := newToken(t)
	_, err := chain.Execute(alice, func(tx *ledger.Tx) error {
		return tok.Burn(tx, big.NewInt(250))
	})
	require.NoError(t, err)
	assert.Equal(t, "750", tok.BalanceOf(alice).String())
	assert.Equal(t, "750", tok.TotalSupply().String())

	_, err = chain.Execute(bob, func(tx *ledger.Tx) error {
		return tok.Burn(tx, big.NewInt(1))
	})
	require.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestNegativeAmountRejected(t *testing.T) {
	chain, tok := newToken(t)
	_, err := chain.Execute(alice, func(tx *ledger.Tx) error {
		_, err := tok.Transfer(tx, bob, big.NewInt(-1))
		return err
	})
	require.ErrorIs(t, err, ErrInvalidAmount)
}

// falseToken reports failure without reverting, like some non-standard tokens.
type falseToken struct{ *Token }

func (f falseToken) Transfer(*ledger.Tx, ledger.Address, *big.Int) (bool, error) {
	return false, nil
}

func (f falseToken) TransferFrom(*ledger.Tx, ledger.Address, ledger.Address, *big.Int) (bool, error) {
	return false, nil
}

func TestSafeTransferFailsClosed(t *testing.T) {
	chain, tok := newToken(t)
	bad := falseToken{tok}

	_, err := chain.Execute(alice, func(tx *ledger.Tx) error {
		return SafeTransfer(tx, bad, vault, bob, big.NewInt(1))
	})
	require.ErrorIs(t, err, ErrTransferFailed)

	_, err = chain.Execute(alice, func(tx *ledger.Tx) error {
		return SafeTransferFrom(tx, bad, vault, alice, bob, big.NewInt(1))
	})
	require.ErrorIs(t, err, ErrTransferFailed)
}

func TestSafeTransferFromUsesCallerAllowance(t *testing.T) {
	chain, tok := newToken(t)
	_, err := chain.Execute(alice, func(tx *ledger.Tx) error {
		_, err := tok.Approve(tx, vault, big.NewInt(100))
		return err
	})
	require.NoError(t, err)

	_, err = chain.Execute(alice, func(tx *ledger.Tx) error {
		return SafeTransferFrom(tx, tok, vault, alice, bob, big.NewInt(100))
	})
	require.NoError(t, err)
	assert.Equal(t, "100", tok.BalanceOf(bob).String())
	assert.Equal(t, "0", tok.Allowance(alice, vault).String())

	// Allowance belongs to vault, not to the origin.
	_, err = chain.Execute(alice, func(tx *ledger.Tx) error {
		return SafeTransferFrom(tx, tok, bob, alice, bob, big.NewInt(1))
	})
	require.ErrorIs(t, err, ErrInsufficientAllowance)
}
