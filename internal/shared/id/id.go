// Package id provides centralized ID generation for the backend.
//
// IDs are prefixed ULIDs:
//   - Lexicographic sortability: relay logs read in send order
//   - Prefixed types: rp_* for correlation ids, emb_* for embeds, dat_* for records
//   - Type safety: separate types keep a correlation id out of an embed lookup
//
// Correlation ids carry 80 bits of entropy, well above the 32 bits the bridge
// needs to keep concurrent calls of one embedded run apart.
package id

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ============================================================================
// Type-Safe ID Wrappers
// ============================================================================

// CorrelationID pairs a relay request frame with its result frame
type CorrelationID string

// EmbedID identifies one embedded project run on the host
type EmbedID string

// DataID identifies a recorded telemetry row
type DataID string

// ============================================================================
// ID Prefixes
// ============================================================================

const (
	CorrelationPrefix = "rp"
	EmbedPrefix       = "emb"
	DataPrefix        = "dat"
)

// ============================================================================
// ULID Generator
// ============================================================================

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the shared generator instance
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a ULID generator backed by crypto/rand
func NewGenerator() *Generator {
	return &Generator{entropy: rand.Reader}
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source.
// Tests use it for deterministic output.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateString creates a new ULID as a string
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.GenerateString())
}

// ============================================================================
// Typed ID Generators
// ============================================================================

// NewCorrelationID generates a relay correlation id
func NewCorrelationID() CorrelationID {
	return CorrelationID(Default().GenerateWithPrefix(CorrelationPrefix))
}

// NewEmbedID generates an embed id
func NewEmbedID() EmbedID {
	return EmbedID(Default().GenerateWithPrefix(EmbedPrefix))
}

// NewDataID generates a telemetry record id
func NewDataID() DataID {
	return DataID(Default().GenerateWithPrefix(DataPrefix))
}

func (id CorrelationID) String() string { return string(id) }
func (id EmbedID) String() string       { return string(id) }
func (id DataID) String() string        { return string(id) }

// ============================================================================
// Short Suffixes
// ============================================================================

var suffixEncoding = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567").WithPadding(base32.NoPadding)

// Suffix returns n lowercase base32 characters of crypto randomness.
// Used where a human reads the id, e.g. test-run names.
func Suffix(n int) string {
	if n <= 0 {
		return ""
	}
	buf := make([]byte, (n*5+7)/8)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand does not fail on supported platforms
		panic(fmt.Sprintf("id: reading entropy: %v", err))
	}
	return suffixEncoding.EncodeToString(buf)[:n]
}

// ============================================================================
// Validation
// ============================================================================

// IsValid checks if an ID string is a valid ULID, with or without prefix
func IsValid(id string) bool {
	_, err := Parse(id)
	return err == nil
}

// Parse parses a ULID string, stripping a known prefix if present
func Parse(id string) (ulid.ULID, error) {
	if i := strings.IndexByte(id, '_'); i >= 0 {
		id = id[i+1:]
	}
	return ulid.Parse(id)
}

// Timestamp extracts the timestamp from a ULID
func Timestamp(id string) (time.Time, error) {
	parsed, err := Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
