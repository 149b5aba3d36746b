package ledger

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// AddressLength is the size of an account address in bytes.
const AddressLength = 20

// Address identifies an account or a contract.
type Address [AddressLength]byte

var (
	// ZeroAddress is the unset address.
	ZeroAddress Address
	// DeadAddress is the conventional irrecoverable sink.
	DeadAddress = MustParseAddress("0x000000000000000000000000000000000000dEaD")
)

// Keccak256 hashes the concatenation of data with legacy Keccak-256.
func Keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, b := range data {
		h.Write(b)
	}
	return h.Sum(nil)
}

// BytesToAddress keeps the last 20 bytes of b, left-padding shorter input.
func BytesToAddress(b []byte) Address {
	var a Address
	if len(b) > AddressLength {
		b = b[len(b)-AddressLength:]
	}
	copy(a[AddressLength-len(b):], b)
	return a
}

// CreateAddress derives the address of a contract deployed by deployer at
// the given deployment nonce.
func CreateAddress(deployer Address, nonce uint64) Address {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], nonce)
	return BytesToAddress(Keccak256(deployer[:], n[:]))
}

// ParseAddress decodes a 0x-prefixed (or bare) 40-digit hex address.
// Mixed-case input must carry a valid EIP-55 checksum.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	raw := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(raw) != 2*AddressLength {
		return ZeroAddress, fmt.Errorf("invalid address %q: want %d hex digits, got %d", s, 2*AddressLength, len(raw))
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return ZeroAddress, fmt.Errorf("invalid address %q: %w", s, err)
	}
	a := BytesToAddress(b)
	if raw != strings.ToLower(raw) && raw != strings.ToUpper(raw) {
		if a.Hex()[2:] != raw {
			return ZeroAddress, fmt.Errorf("invalid address %q: checksum mismatch", s)
		}
	}
	return a, nil
}

// MustParseAddress is ParseAddress for constants; it panics on bad input.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Hex returns the EIP-55 checksummed form of a.
func (a Address) Hex() string {
	lower := hex.EncodeToString(a[:])
	sum := Keccak256([]byte(lower))
	out := []byte(lower)
	for i, c := range out {
		if c < 'a' || c > 'f' {
			continue
		}
		nibble := sum[i/2]
		if i%2 == 0 {
			nibble >>= 4
		}
		if nibble&0x0f >= 8 {
			out[i] = c - 32
		}
	}
	return "0x" + string(out)
}

// String implements fmt.Stringer.
func (a Address) String() string { return a.Hex() }

// IsZero reports whether a is the zero address.
func (a Address) IsZero() bool { return a == ZeroAddress }

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) { return []byte(a.Hex()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Hash is a 32-byte transaction hash.
type Hash [32]byte

// Hex returns the 0x-prefixed lowercase hex form of h.
func (h Hash) Hex() string { return "0x" + hex.EncodeToString(h[:]) }

// String implements fmt.Stringer.
func (h Hash) String() string { return h.Hex() }

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) { return []byte(h.Hex()), nil }
