package utilities

import (
	"fmt"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/segmentio/ksuid"
)

// NewKSUID generates a new globally unique KSUID string.
// 128 bits of random payload make concurrent generation collision-free in practice.
func NewKSUID() string {
	return ksuid.New().String()
}

var (
	ulidMu      sync.Mutex
	ulidEntropy = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// NewULID returns a lexicographically sortable identifier. IDs generated
// within the same millisecond are strictly increasing.
func NewULID() string {
	ulidMu.Lock()
	defer ulidMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulidEntropy).String()
}

// IDGenerator hands out snowflake IDs from a single node. The node must be
// shared: a fresh node per call restarts the sequence and can repeat IDs
// within one millisecond.
type IDGenerator struct {
	node *snowflake.Node
}

// NewIDGenerator creates a generator for the given node ID (0..1023).
func NewIDGenerator(nodeID int64) (*IDGenerator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", nodeID, err)
	}
	return &IDGenerator{node: node}, nil
}

// NewSnowflakeID generates a snowflake ID string.
func (g *IDGenerator) NewSnowflakeID() string {
	return g.node.Generate().String()
}
