// Package agent provides Ed25519 request signing and verification for
// agents submitting transactions to the registry daemon.
package agent

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ssd-technologies/agentpulse/internal/ledger"
)

// Request headers carrying the signature.
const (
	HeaderKey       = "X-Agent-Key"
	HeaderTimestamp = "X-Agent-Timestamp"
	HeaderSignature = "X-Agent-Signature"
	HeaderNonce     = "X-Agent-Nonce"
)

// TimestampWindow is the default maximum age of a signed request.
const TimestampWindow = 5 * time.Minute

var (
	ErrMissingHeader    = errors.New("missing signature header")
	ErrInvalidKey       = errors.New("invalid agent key")
	ErrExpiredTimestamp = errors.New("timestamp outside window")
	ErrBadSignature     = errors.New("ed25519 signature verification failed")
	ErrReplayed         = errors.New("signed request already used")
)

// AddressFromPublicKey derives the account address of a public key: the last
// 20 bytes of its keccak256 hash.
func AddressFromPublicKey(pub ed25519.PublicKey) ledger.Address {
	return ledger.BytesToAddress(ledger.Keccak256(pub)[12:])
}

func message(method, path, ts, nonce string, body []byte) []byte {
	return []byte(method + path + ts + "\n" + nonce + "\n" + string(body))
}

// SignRequest adds X-Agent-Key, X-Agent-Timestamp, X-Agent-Nonce and
// X-Agent-Signature headers to an outgoing request. The signature covers:
//
//	method + path + timestamp + "\n" + nonce + "\n" + body
//
// The nonce is random, so two identical requests signed in the same second
// are still distinct.
func SignRequest(req *http.Request, priv ed25519.PrivateKey, body []byte) {
	SignRequestAt(req, priv, body, time.Now())
}

// SignRequestAt is SignRequest with an explicit signing time.
func SignRequestAt(req *http.Request, priv ed25519.PrivateKey, body []byte, at time.Time) {
	ts := strconv.FormatInt(at.Unix(), 10)
	nonce := uuid.NewString()
	pub := priv.Public().(ed25519.PublicKey)

	req.Header.Set(HeaderKey, hex.EncodeToString(pub))
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderNonce, nonce)
	sig := ed25519.Sign(priv, message(req.Method, req.URL.Path, ts, nonce, body))
	req.Header.Set(HeaderSignature, hex.EncodeToString(sig))
}

// Verifier checks signed requests and rejects any signature it has
// already accepted. Seen signatures are kept until their timestamp leaves
// the window, after which the timestamp check rejects them.
type Verifier struct {
	Window time.Duration
	Now    func() time.Time

	mu   sync.Mutex
	seen map[string]int64 // signature -> unix second it stops being valid
}

// NewVerifier returns a Verifier accepting timestamps within window of the
// wall clock. A non-positive window selects TimestampWindow.
func NewVerifier(window time.Duration) *Verifier {
	if window <= 0 {
		window = TimestampWindow
	}
	return &Verifier{Window: window, Now: time.Now}
}

// Verify checks that:
//  1. All three headers are present and the key is a 32-byte Ed25519 key.
//  2. The timestamp is within the window of the current time.
//  3. The signature is valid for the reconstructed message.
//  4. The signature has not been accepted before.
//
// It returns the address of the signing key.
func (v *Verifier) Verify(req *http.Request, body []byte) (ledger.Address, error) {
	keyHex := req.Header.Get(HeaderKey)
	tsStr := req.Header.Get(HeaderTimestamp)
	sigHex := req.Header.Get(HeaderSignature)
	nonce := req.Header.Get(HeaderNonce)
	for name, val := range map[string]string{HeaderKey: keyHex, HeaderTimestamp: tsStr, HeaderSignature: sigHex, HeaderNonce: nonce} {
		if val == "" {
			return ledger.ZeroAddress, fmt.Errorf("%w: %s", ErrMissingHeader, name)
		}
	}

	key, err := hex.DecodeString(keyHex)
	if err != nil || len(key) != ed25519.PublicKeySize {
		return ledger.ZeroAddress, fmt.Errorf("%w: want %d hex-encoded bytes", ErrInvalidKey, ed25519.PublicKeySize)
	}

	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return ledger.ZeroAddress, fmt.Errorf("invalid timestamp: %w", err)
	}
	now := v.Now().Unix()
	diff := math.Abs(float64(now - ts))
	if diff > v.Window.Seconds() {
		return ledger.ZeroAddress, fmt.Errorf("%w: %.0fs drift exceeds %v", ErrExpiredTimestamp, diff, v.Window)
	}

	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return ledger.ZeroAddress, fmt.Errorf("invalid signature hex: %w", err)
	}
	pub := ed25519.PublicKey(key)
	if !ed25519.Verify(pub, message(req.Method, req.URL.Path, tsStr, nonce, body), sig) {
		return ledger.ZeroAddress, ErrBadSignature
	}
	if !v.remember(string(sig), ts+int64(v.Window/time.Second), now) {
		return ledger.ZeroAddress, ErrReplayed
	}
	return AddressFromPublicKey(pub), nil
}

// remember records sig until expiry and reports whether it was new.
// Expired entries are dropped on the way.
func (v *Verifier) remember(sig string, expiry, now int64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.seen == nil {
		v.seen = make(map[string]int64)
	}
	for k, exp := range v.seen {
		if exp < now {
			delete(v.seen, k)
		}
	}
	if _, ok := v.seen[sig]; ok {
		return false
	}
	v.seen[sig] = expiry
	return true
}

// Seen returns the number of signatures currently remembered.
func (v *Verifier) Seen() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.seen)
}
