package kvstore

// MemStore is a map backed Store.
//
// It exists for tests and for callers that want a scratch namespace with the
// same cost model as a real backend. Every call is tallied in Ops so tests
// can assert the caching guarantees of the container layer: one physical
// read per storage key per logical operation sequence, writes batched to
// flush.
type MemStore struct {
	values map[string][]byte

	// WriteLimit, when non-zero, caps the number of stored keys. A write
	// that would grow the store beyond the limit fails with ErrStoreFull.
	WriteLimit int

	Ops OpCounts
}

// OpCounts tallies the physical calls made against a MemStore.
type OpCounts struct {
	Reads   int
	Writes  int
	Removes int
	Has     int
}

// Total returns the sum of all physical calls.
func (o OpCounts) Total() int {
	return o.Reads + o.Writes + o.Removes + o.Has
}

func NewMemStore() *MemStore {
	return &MemStore{values: make(map[string][]byte)}
}

func (s *MemStore) Read(key []byte) ([]byte, bool, error) {
	s.Ops.Reads++
	v, ok := s.values[string(key)]
	if !ok {
		return nil, false, nil
	}
	// Copy out so callers cannot alias the stored bytes.
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (s *MemStore) Write(key []byte, value []byte) error {
	s.Ops.Writes++
	k := string(key)
	if s.WriteLimit > 0 {
		if _, exists := s.values[k]; !exists && len(s.values) >= s.WriteLimit {
			return ErrStoreFull
		}
	}
	v := make([]byte, len(value))
	copy(v, value)
	s.values[k] = v
	return nil
}

func (s *MemStore) Remove(key []byte) error {
	s.Ops.Removes++
	delete(s.values, string(key))
	return nil
}

func (s *MemStore) Has(key []byte) (bool, error) {
	s.Ops.Has++
	_, ok := s.values[string(key)]
	return ok, nil
}

// Len returns the number of stored keys.
func (s *MemStore) Len() int {
	return len(s.values)
}

// ResetOps zeroes the operation counters without touching the stored data.
func (s *MemStore) ResetOps() {
	s.Ops = OpCounts{}
}
