package claim

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
)

const (
	fingerprintSeparator = "\x1f"
	// every field is tagged so that no parsed value can hash like a missing one
	absentField  = "0"
	presentField = "1"
)

// Fingerprint identifies a receipt by its merchant, date and amount
type Fingerprint [sha256.Size]byte

// ComputeFingerprint hashes the canonical forms of the parsed fields.
// Receipts with the same merchant, date and amount share a fingerprint.
func ComputeFingerprint(parsed ParsedFields) Fingerprint {
	merchant, date, amount := absentField, absentField, absentField
	if parsed.Merchant != nil {
		merchant = presentField + *parsed.Merchant
	}
	if parsed.Date != nil {
		date = presentField + dateKey(*parsed.Date)
	}
	if parsed.Amount != nil {
		amount = presentField + parsed.Amount.StringFixed(2)
	}
	return sha256.Sum256([]byte(strings.Join([]string{merchant, date, amount}, fingerprintSeparator)))
}

func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// Short returns an abbreviated hex form for messages and logs
func (f Fingerprint) Short() string {
	return f.String()[:12]
}

func (f Fingerprint) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *Fingerprint) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("decoding fingerprint: %w", err)
	}
	if len(b) != len(f) {
		return fmt.Errorf("decoding fingerprint: want %d bytes, got %d", len(f), len(b))
	}
	copy(f[:], b)
	return nil
}

// DuplicateIndex remembers the fingerprints of accepted receipts
type DuplicateIndex interface {
	// Contains reports whether fp has been recorded
	Contains(fp Fingerprint) (bool, error)

	// Record adds fp; recording it again changes nothing
	Record(fp Fingerprint) error

	// CheckAndRecord reports whether fp was absent and, if it was and record
	// is true, records it within the same critical section
	CheckAndRecord(fp Fingerprint, record bool) (absent bool, err error)

	// Forget removes fp so a claim whose outcome was never stored can be retried
	Forget(fp Fingerprint) error
}

// MemoryIndex is a DuplicateIndex that lives for the life of the process
type MemoryIndex struct {
	mu   sync.Mutex
	seen map[Fingerprint]struct{}
}

// NewMemoryIndex creates an empty MemoryIndex
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{seen: make(map[Fingerprint]struct{})}
}

func (m *MemoryIndex) Contains(fp Fingerprint) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.seen[fp]
	return ok, nil
}

func (m *MemoryIndex) Record(fp Fingerprint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[fp] = struct{}{}
	return nil
}

func (m *MemoryIndex) CheckAndRecord(fp Fingerprint, record bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[fp]; ok {
		return false, nil
	}
	if record {
		m.seen[fp] = struct{}{}
	}
	return true, nil
}

func (m *MemoryIndex) Forget(fp Fingerprint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, fp)
	return nil
}

// Len returns the number of recorded fingerprints
func (m *MemoryIndex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}
