package shard

// partKey identifies a part within a shard.
type partKey struct {
	policy   string
	location string
}

// Shard stores parts keyed by (policy, location), so resources can be
// updated per policy and region.
type Shard struct {
	data map[partKey]Part
}

// NewShard creates an empty shard.
func NewShard() *Shard {
	return &Shard{data: make(map[partKey]Part)}
}

// Len returns the number of parts.
func (s *Shard) Len() int {
	return len(s.data)
}

// Get returns the part for (policy, location), if present.
func (s *Shard) Get(policy, location string) (Part, bool) {
	p, ok := s.data[partKey{policy, location}]
	return p, ok
}

// Pop removes and returns the part for (policy, location).
func (s *Shard) Pop(policy, location string) (Part, bool) {
	key := partKey{policy, location}
	p, ok := s.data[key]
	if ok {
		delete(s.data, key)
	}
	return p, ok
}

// Put merges a part into the shard. When a part with the same
// (policy, location) already exists, the one with the higher timestamp wins;
// a newer failed execution keeps the existing part's resources and records
// the timestamp of the last success.
func (s *Shard) Put(part Part) {
	key := partKey{part.Policy, part.Location}
	existing, ok := s.data[key]
	if !ok {
		s.data[key] = part
		return
	}
	if existing.Timestamp > part.Timestamp {
		// The existing part is newer: the incoming one is late or duplicate.
		return
	}
	if part.Error != nil {
		var prev *float64
		if existing.Error == nil {
			t := existing.Timestamp
			prev = &t
		} else {
			prev = existing.PreviousTimestamp
		}
		part = Part{
			Policy:            part.Policy,
			Location:          part.Location,
			Timestamp:         part.Timestamp,
			Resources:         existing.Resources,
			Error:             part.Error,
			PreviousTimestamp: prev,
		}
	}
	s.data[key] = part
}

// Update merges every part of the other shard into this one.
func (s *Shard) Update(other *Shard) {
	for _, part := range other.data {
		s.Put(part)
	}
}

// Parts returns the parts of the shard in unspecified order.
func (s *Shard) Parts() []Part {
	out := make([]Part, 0, len(s.data))
	for _, p := range s.data {
		out = append(out, p)
	}
	return out
}
