// Package labels draws the index labels that partition oracles and status
// requests into buckets. The oracle registry and the flight status engine both
// draw through a Drawer so that their coupling stays in one place.
package labels

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const (
	// Count is the number of distinct labels, 0..Count-1.
	Count = 10
	// PerOracle is the number of labels assigned to each oracle.
	PerOracle = 3
)

// Label is one of Count discrete buckets.
type Label uint8

// Valid reports whether l is within 0..Count-1.
func (l Label) Valid() bool {
	return l < Count
}

// Set is the fixed group of labels assigned to an oracle.
type Set [PerOracle]Label

// Contains reports whether l is one of the labels in s.
func (s Set) Contains(l Label) bool {
	for _, v := range s {
		if v == l {
			return true
		}
	}
	return false
}

// Distinct reports whether every label in s is valid and unique.
func (s Set) Distinct() bool {
	seen := make(map[Label]bool, PerOracle)
	for _, v := range s {
		if !v.Valid() || seen[v] {
			return false
		}
		seen[v] = true
	}
	return true
}

// Sorted returns a copy of s in ascending order.
func (s Set) Sorted() Set {
	out := s
	sort.Slice(out[:], func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s Set) String() string {
	parts := make([]string, len(s))
	for i, v := range s {
		parts[i] = strconv.Itoa(int(v))
	}
	return strings.Join(parts, ",")
}

// ParseSet parses the comma separated form produced by Set.String.
func ParseSet(str string) (Set, error) {
	var s Set
	parts := strings.Split(str, ",")
	if len(parts) != PerOracle {
		return s, fmt.Errorf("expected %d labels, got %d", PerOracle, len(parts))
	}
	for i, p := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 8)
		if err != nil {
			return s, fmt.Errorf("invalid label %q: %w", p, err)
		}
		s[i] = Label(v)
	}
	if !s.Distinct() {
		return s, fmt.Errorf("labels %s are not distinct values in 0..%d", str, Count-1)
	}
	return s, nil
}

// Entropy is a deterministic stream of pseudo-random values. Every replica of
// the ledger must observe the same stream for the same transaction.
type Entropy interface {
	Uint64() uint64
}

// HashEntropy chains sha256 over a seed, an account and a counter.
type HashEntropy struct {
	seed    []byte
	account string
	nonce   uint64
}

// NewHashEntropy returns an Entropy derived from seed and account.
func NewHashEntropy(seed []byte, account string) *HashEntropy {
	return &HashEntropy{
		seed:    append([]byte{}, seed...),
		account: account,
	}
}

func (h *HashEntropy) Uint64() uint64 {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, h.nonce)
	h.nonce++

	hasher := sha256.New()
	hasher.Write(h.seed)
	hasher.Write([]byte(h.account))
	hasher.Write(buf)
	sum := hasher.Sum(nil)
	return binary.BigEndian.Uint64(sum[:8])
}

// Drawer draws labels from an Entropy source.
type Drawer struct {
	entropy Entropy
}

// NewDrawer wraps e.
func NewDrawer(e Entropy) *Drawer {
	return &Drawer{entropy: e}
}

// Index draws a single label.
func (d *Drawer) Index() Label {
	return Label(d.entropy.Uint64() % Count)
}

// Indexes draws PerOracle distinct labels, redrawing on collision.
func (d *Drawer) Indexes() Set {
	var s Set
	for i := range s {
		for {
			l := d.Index()
			if !slice(s[:i]).contains(l) {
				s[i] = l
				break
			}
		}
	}
	return s
}

type slice []Label

func (s slice) contains(l Label) bool {
	for _, v := range s {
		if v == l {
			return true
		}
	}
	return false
}

// Sequence replays a fixed list of values, cycling when exhausted.
type Sequence struct {
	values []uint64
	pos    int
}

// NewSequence returns an Entropy that yields values in order.
func NewSequence(values ...uint64) *Sequence {
	return &Sequence{values: values}
}

func (s *Sequence) Uint64() uint64 {
	if len(s.values) == 0 {
		return 0
	}
	v := s.values[s.pos%len(s.values)]
	s.pos++
	return v
}
