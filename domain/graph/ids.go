package graph

import (
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// seq disambiguates ids generated within the same millisecond by one process.
var seq uint64

// NewID generates a globally unique identifier for a node or edge.
// The id combines a millisecond timestamp, random entropy and a
// process-local sequence index so that concurrent peers generating ids
// for the same document cannot collide.
func NewID() string {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 36)
	n := atomic.AddUint64(&seq, 1)

	// uuid gives us the random component; eight hex chars is plenty
	// on top of the timestamp and sequence.
	rnd := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]

	return ts + "-" + rnd + "-" + strconv.FormatUint(n%4096, 36)
}

// AnchorIDPrefix marks synthetic nodes that sit on an edge so that an
// objection can attach to the edge itself.
const AnchorIDPrefix = "anchor:"

// AnchorID returns the id of the synthetic anchor node for an edge.
func AnchorID(edgeID string) string {
	return AnchorIDPrefix + edgeID
}

// IsAnchorID reports whether id names an edge anchor node.
func IsAnchorID(id string) bool {
	return strings.HasPrefix(id, AnchorIDPrefix)
}

// EdgeIDFromAnchor returns the edge id an anchor node belongs to.
func EdgeIDFromAnchor(anchorID string) string {
	return strings.TrimPrefix(anchorID, AnchorIDPrefix)
}
