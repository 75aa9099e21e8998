// Package idgen supplies event ID generators behind ports.IDGenerator.
package idgen

import (
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/quotagate/quotagate/ports"
)

// UUID issues random v4 identifiers.
type UUID struct{}

func (UUID) New() string { return uuid.NewString() }

// Sequential issues prefix1, prefix2, ... so tests get stable IDs.
type Sequential struct {
	prefix string
	n      atomic.Uint64
}

// NewSequential returns a generator that counts up from prefix1.
func NewSequential(prefix string) *Sequential {
	return &Sequential{prefix: prefix}
}

func (s *Sequential) New() string {
	return s.prefix + strconv.FormatUint(s.n.Add(1), 10)
}

var (
	_ ports.IDGenerator = UUID{}
	_ ports.IDGenerator = (*Sequential)(nil)
)
