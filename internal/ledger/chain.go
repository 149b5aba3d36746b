// Package ledger is the serialized execution host for the registry
// contracts. One transaction runs at a time; it either commits in full or
// is rolled back through a write journal, including the events it emitted.
package ledger

import (
	"encoding/binary"
	"sync"

	"go.uber.org/zap"
)

// MaxCallDepth bounds nested contract calls inside one transaction.
const MaxCallDepth = 16

// Chain executes transactions against in-process contract state.
type Chain struct {
	mu      sync.RWMutex
	clock   Clock
	logger  *zap.Logger
	height  uint64
	lastTS  uint64
	nonces  map[Address]uint64
	current *Tx
	history []Log
	hub     *hub
}

// Option configures a Chain.
type Option func(*Chain)

// WithLogger sets the logger used for commit and revert traces.
func WithLogger(l *zap.Logger) Option {
	return func(c *Chain) { c.logger = l }
}

// NewChain returns an empty chain that reads block time from clock.
func NewChain(clock Clock, opts ...Option) *Chain {
	if clock == nil {
		clock = SystemClock{}
	}
	c := &Chain{
		clock:  clock,
		logger: zap.NewNop(),
		nonces: make(map[Address]uint64),
		hub:    newHub(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Receipt describes a committed transaction.
type Receipt struct {
	TxHash    Hash   `json:"tx_hash"`
	Height    uint64 `json:"height"`
	Timestamp uint64 `json:"timestamp"`
	Logs      []Log  `json:"logs"`
}

// Execute runs fn as a transaction sent by sender. If fn returns an error
// (or panics) every state write and event of the transaction is undone.
// fn must not call View or Execute on the same chain.
func (c *Chain) Execute(sender Address, fn func(tx *Tx) error) (*Receipt, error) {
	c.mu.Lock()
	ts := c.blockTime()
	c.lastTS = ts
	tx := &Tx{
		chain:     c,
		origin:    sender,
		sender:    sender,
		timestamp: ts,
		height:    c.height + 1,
	}
	tx.hash = txHash(sender, c.nonces[sender], tx.height, ts)
	c.current = tx

	if err := c.run(tx, fn); err != nil {
		c.current = nil
		c.mu.Unlock()
		c.logger.Debug("transaction reverted",
			zap.String("tx", tx.hash.Hex()),
			zap.String("sender", sender.Hex()),
			zap.Error(err))
		return nil, err
	}

	c.current = nil
	c.nonces[sender]++
	c.height = tx.height
	logs := make([]Log, len(tx.logs))
	for i, l := range tx.logs {
		l.Seq = uint64(len(c.history)) + 1
		c.history = append(c.history, l)
		logs[i] = l
	}
	c.mu.Unlock()

	c.logger.Debug("transaction committed",
		zap.String("tx", tx.hash.Hex()),
		zap.String("sender", sender.Hex()),
		zap.Uint64("height", tx.height),
		zap.Int("logs", len(logs)))
	c.hub.publish(logs)

	return &Receipt{TxHash: tx.hash, Height: tx.height, Timestamp: ts, Logs: logs}, nil
}

func (c *Chain) run(tx *Tx, fn func(tx *Tx) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			tx.rollback()
			c.current = nil
			c.mu.Unlock()
			panic(p)
		}
	}()
	if err = fn(tx); err != nil {
		tx.rollback()
	}
	return err
}

// View runs fn under the read lock so it observes only committed state.
func (c *Chain) View(fn func() error) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fn()
}

// Now returns the current block time: the pinned timestamp inside a
// transaction, otherwise the clock (never earlier than the last block).
// Call it from contract code, View, or Execute only.
func (c *Chain) Now() uint64 {
	if c.current != nil {
		return c.current.timestamp
	}
	return c.blockTime()
}

func (c *Chain) blockTime() uint64 {
	ts := unixSeconds(c.clock.Now())
	if ts < c.lastTS {
		ts = c.lastTS
	}
	return ts
}

// Height returns the number of committed transactions.
func (c *Chain) Height() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.height
}

// LastSeq returns the sequence number of the most recent log.
func (c *Chain) LastSeq() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return uint64(len(c.history))
}

// LogsSince returns committed logs with Seq > seq, oldest first.
func (c *Chain) LogsSince(seq uint64) []Log {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if seq >= uint64(len(c.history)) {
		return nil
	}
	out := make([]Log, uint64(len(c.history))-seq)
	copy(out, c.history[seq:])
	return out
}

// Subscribe returns a subscription buffering up to buffer logs.
func (c *Chain) Subscribe(buffer int) *Subscription {
	return c.hub.add(buffer)
}

func txHash(sender Address, nonce, height, ts uint64) Hash {
	var buf [24]byte
	binary.BigEndian.PutUint64(buf[0:8], nonce)
	binary.BigEndian.PutUint64(buf[8:16], height)
	binary.BigEndian.PutUint64(buf[16:24], ts)
	var h Hash
	copy(h[:], Keccak256(sender[:], buf[:]))
	return h
}

// Tx is the context of one executing transaction.
type Tx struct {
	chain     *Chain
	hash      Hash
	origin    Address
	sender    Address
	timestamp uint64
	height    uint64
	depth     int
	journal   []func()
	logs      []Log
}

// Sender is the immediate caller: the origin, or the contract that made
// the current nested Call.
func (tx *Tx) Sender() Address { return tx.sender }

// Origin is the account that submitted the transaction.
func (tx *Tx) Origin() Address { return tx.origin }

// Timestamp is the block time pinned for the whole transaction.
func (tx *Tx) Timestamp() uint64 { return tx.timestamp }

// Hash identifies the transaction.
func (tx *Tx) Hash() Hash { return tx.hash }

// Chain returns the executing chain.
func (tx *Tx) Chain() *Chain { return tx.chain }

// OnRevert registers an undo step, run in reverse order on rollback.
func (tx *Tx) OnRevert(undo func()) {
	tx.journal = append(tx.journal, undo)
}

// Emit records an event from contract. It is published only on commit.
func (tx *Tx) Emit(contract Address, ev Event) {
	tx.logs = append(tx.logs, Log{
		TxHash:    tx.hash,
		Index:     uint(len(tx.logs)),
		Height:    tx.height,
		Timestamp: tx.timestamp,
		Contract:  contract,
		Event:     ev,
	})
}

// Call runs fn with as the sender, the way a contract calls another
// contract. Errors propagate; there is no local recovery.
func (tx *Tx) Call(as Address, fn func(tx *Tx) error) error {
	if tx.depth >= MaxCallDepth {
		return NewRevert(ErrCallDepth, "depth", tx.depth)
	}
	prev := tx.sender
	tx.sender = as
	tx.depth++
	defer func() {
		tx.sender = prev
		tx.depth--
	}()
	return fn(tx)
}

func (tx *Tx) rollback() {
	for i := len(tx.journal) - 1; i >= 0; i-- {
		tx.journal[i]()
	}
	tx.journal = nil
	tx.logs = nil
}

// Read runs fn under the chain's read lock and returns its result.
func Read[T any](c *Chain, fn func() T) T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fn()
}
