// Package id implements the fixed-width identifier algebra shared by every
// node in the overlay: parsing, formatting, per-digit access, and the
// modular distance and ordering used by the routing table.
package id

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

const hexDigits = "0123456789abcdef"

// Size is the width of an ID in octets (64 bits).
const Size = 8

// Digits is the number of 4-bit hex digits an ID decomposes into.
const Digits = Size * 2

// ID is an immutable 64-bit identifier, stored as 8 octets with octet 0
// most significant (big-endian).
type ID [Size]byte

// Zero is the all-zero identifier.
var Zero ID

// Digit returns the 4-bit value of the i-th hex digit, 0 <= i < Digits.
//
// Digit i lives in octet i/2. Even i reads the low nibble of that octet,
// odd i the high nibble — low-nibble-first within each octet. This
// convention is arbitrary but must be shared by every node; see the
// "Digit endianness" open question in the design notes.
func (a ID) Digit(i int) byte {
	if i < 0 || i >= Digits {
		panic(fmt.Sprintf("id: digit index %d out of range [0,%d)", i, Digits))
	}
	octet := a[i/2]
	if i%2 == 0 {
		return octet & 0x0F
	}
	return (octet >> 4) & 0x0F
}

// Distance returns the wrap-around unsigned subtraction (a - b) mod 2^64,
// expressed as another ID.
func (a ID) Distance(b ID) ID {
	ua := a.uint64()
	ub := b.uint64()
	return fromUint64(ua - ub)
}

// Cmp provides a total order consistent with lexicographic comparison of
// the octet array (equivalently, unsigned integer order since octet 0 is
// most significant).
func (a ID) Cmp(b ID) int {
	return bytes.Compare(a[:], b[:])
}

// Less reports whether a < b under Cmp.
func (a ID) Less(b ID) bool { return a.Cmp(b) < 0 }

// Equal reports whether a == b.
func (a ID) Equal(b ID) bool { return a == b }

// String formats the ID as 16 lowercase hex digits without separators,
// one character per Digit(i) in order — the inverse of Parse. Note this
// is not the conventional two-hex-chars-per-byte rendering of the octets:
// it is built from the same low-nibble-first digit convention Digit uses,
// so format(parse(s)) round-trips exactly (spec §8).
func (a ID) String() string {
	b := make([]byte, Digits)
	for i := 0; i < Digits; i++ {
		b[i] = hexDigits[a.Digit(i)]
	}
	return string(b)
}

// Parse accepts a hexadecimal string of exactly 16 hex digits once any
// '-' separators are stripped; case is insensitive. Any other character,
// or a stripped length other than 16, is an error. Character i of the
// stripped string becomes Digit(i) of the result.
func Parse(s string) (ID, error) {
	stripped := strings.ReplaceAll(s, "-", "")
	if len(stripped) != Digits {
		return ID{}, fmt.Errorf("id: invalid length %d, want %d hex digits", len(stripped), Digits)
	}

	var out ID
	for i := 0; i < Digits; i++ {
		v, err := hexVal(stripped[i])
		if err != nil {
			return ID{}, fmt.Errorf("id: invalid digit %q at position %d: %w", stripped[i], i, err)
		}
		octet := i / 2
		if i%2 == 0 {
			out[octet] = (out[octet] &^ 0x0F) | v
		} else {
			out[octet] = (out[octet] &^ 0xF0) | (v << 4)
		}
	}
	return out, nil
}

func hexVal(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, nil
	default:
		return 0, fmt.Errorf("not a hex digit")
	}
}

// FromKey derives a deterministic 64-bit ID from an arbitrary byte key
// using xxhash — fast and stable within a build, not cryptographic.
func FromKey(key []byte) ID {
	return fromUint64(xxhash.Sum64(key))
}

// FromKeyString is a convenience wrapper over FromKey for string keys.
func FromKeyString(key string) ID {
	return FromKey([]byte(key))
}

func (a ID) uint64() uint64 {
	var v uint64
	for _, b := range a {
		v = (v << 8) | uint64(b)
	}
	return v
}

func fromUint64(v uint64) ID {
	var out ID
	for i := Size - 1; i >= 0; i-- {
		out[i] = byte(v)
		v >>= 8
	}
	return out
}
