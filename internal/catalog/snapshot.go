package catalog

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"reflect"
	"time"
)

// Snapshot is the decoded catalog at one point in time.
//
// Equality is structural over the whole decoded payload: object key order and
// formatting do not matter, any differing value does.
type Snapshot struct {
	Shop        Shop
	Fingerprint string
	FetchedAt   time.Time

	tree any
}

// NewSnapshot decodes the API "data" object.
func NewSnapshot(data []byte, fetchedAt time.Time) (*Snapshot, error) {
	var tree any
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, err
	}
	if _, ok := tree.(map[string]any); !ok {
		return nil, fmt.Errorf("data is %T, want object", tree)
	}
	var shop Shop
	if err := json.Unmarshal(data, &shop); err != nil {
		return nil, err
	}
	return &Snapshot{
		Shop:        shop,
		Fingerprint: fingerprint(tree),
		FetchedAt:   fetchedAt,
		tree:        tree,
	}, nil
}

// Equal reports structural equality. A nil snapshot equals nothing, so a cold
// start always counts as a change.
func (s *Snapshot) Equal(o *Snapshot) bool {
	if s == nil || o == nil {
		return false
	}
	if s.Fingerprint != o.Fingerprint {
		return false
	}
	return reflect.DeepEqual(s.tree, o.tree)
}

// fingerprint hashes the canonical JSON of tree (encoding/json sorts map keys).
func fingerprint(tree any) string {
	b, err := json.Marshal(tree)
	if err != nil {
		return ""
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return fmt.Sprintf("%016x", h.Sum64())
}
