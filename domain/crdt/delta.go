package crdt

import (
	"encoding/json"
	"fmt"
)

// Update framing: a four-byte magic plus version, then a JSON body.
// The magic guards against applying arbitrary blobs from the wire or
// a storage record written by a different subsystem.
var updateMagic = [4]byte{'B', 'S', 'U', '1'}

// updateBody is the payload of one binary update: a batch of map
// entries per collection and text ops per node. A snapshot is the same
// shape — an update that happens to carry the whole document.
type updateBody struct {
	Nodes []wireEntry         `json:"n,omitempty"`
	Edges []wireEntry         `json:"e,omitempty"`
	Locks []wireEntry         `json:"l,omitempty"`
	Text  map[string][]textOp `json:"t,omitempty"`
}

func (b *updateBody) empty() bool {
	return len(b.Nodes) == 0 && len(b.Edges) == 0 && len(b.Locks) == 0 && len(b.Text) == 0
}

func encodeUpdate(body *updateBody) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode update: %w", err)
	}
	out := make([]byte, 0, len(payload)+4)
	out = append(out, updateMagic[:]...)
	out = append(out, payload...)
	return out, nil
}

func decodeUpdate(data []byte) (*updateBody, error) {
	if len(data) < 4 || [4]byte(data[:4]) != updateMagic {
		return nil, fmt.Errorf("decode update: bad magic")
	}
	var body updateBody
	if err := json.Unmarshal(data[4:], &body); err != nil {
		return nil, fmt.Errorf("decode update: %w", err)
	}
	return &body, nil
}
