package shard

import (
	"context"
	"sort"
)

// RuleMeta is the per-policy metadata stored beside the shards.
type RuleMeta struct {
	Description string `json:"description"`
	Resource    string `json:"resource"`
	Comment     string `json:"comment,omitempty"`
}

// Collection is a light abstraction over shards, a distributor, and an
// optional IO backend.
type Collection struct {
	distributor Distributor
	io          IO

	shards map[int]*Shard
	meta   map[string]RuleMeta
}

// NewCollection creates an empty collection with the given distributor.
func NewCollection(d Distributor) *Collection {
	return &Collection{
		distributor: d,
		shards:      make(map[int]*Shard),
		meta:        make(map[string]RuleMeta),
	}
}

// ForCloud builds a collection with the cloud's conventional distributor:
// two region shards for AWS, a single shard for everything else.
func ForCloud(cloud string) *Collection {
	if cloud == "AWS" {
		return NewCollection(NewAWSRegionDistributor(2))
	}
	return NewCollection(SingleDistributor{})
}

// ForDifference builds the collection shape used for diff results.
// Event-driven reports hold only new findings, so they stay small and do not
// need sharding.
func ForDifference() *Collection {
	return NewCollection(SingleDistributor{})
}

// WithIO attaches an IO backend and returns the collection.
func (c *Collection) WithIO(io IO) *Collection {
	c.io = io
	return c
}

// Distributor returns the collection's distributor.
func (c *Collection) Distributor() Distributor {
	return c.distributor
}

// Meta returns the policy metadata map.
func (c *Collection) Meta() map[string]RuleMeta {
	return c.meta
}

// Len returns the number of materialized shards.
func (c *Collection) Len() int {
	return len(c.shards)
}

// Empty reports whether no shard holds any part.
func (c *Collection) Empty() bool {
	for _, s := range c.shards {
		if s.Len() > 0 {
			return false
		}
	}
	return true
}

// shard returns the n-th shard, creating it on demand.
func (c *Collection) shard(n int) *Shard {
	s, ok := c.shards[n]
	if !ok {
		s = NewShard()
		c.shards[n] = s
	}
	return s
}

// Shards iterates materialized shards in index order.
func (c *Collection) Shards() []IndexedShard {
	indexes := make([]int, 0, len(c.shards))
	for n := range c.shards {
		indexes = append(indexes, n)
	}
	sort.Ints(indexes)
	out := make([]IndexedShard, 0, len(indexes))
	for _, n := range indexes {
		out = append(out, IndexedShard{N: n, Shard: c.shards[n]})
	}
	return out
}

// IndexedShard pairs a shard with its index.
type IndexedShard struct {
	N     int
	Shard *Shard
}

// PutPart routes the part through the distributor into its shard.
func (c *Collection) PutPart(part Part) {
	n := DistributePart(c.distributor, part)
	c.shard(n).Put(part)
}

// PutParts distributes multiple parts.
func (c *Collection) PutParts(parts []Part) {
	for _, p := range parts {
		c.PutPart(p)
	}
}

// DropPart removes a part from the collection.
func (c *Collection) DropPart(policy, location string) {
	n := c.distributor.Distribute(location)
	if s, ok := c.shards[n]; ok {
		s.Pop(policy, location)
	}
}

// Update merges the parts of another collection into this one,
// redistributing them through this collection's distributor.
func (c *Collection) Update(other *Collection) {
	for _, is := range other.Shards() {
		c.PutParts(is.Shard.Parts())
	}
}

// IterParts returns the parts that executed successfully at least once.
func (c *Collection) IterParts() []Part {
	var out []Part
	for _, is := range c.Shards() {
		for _, p := range is.Shard.Parts() {
			if p.Error == nil || p.PreviousTimestamp != nil {
				out = append(out, p)
			}
		}
	}
	return out
}

// IterAllParts returns every part, including ones that never succeeded.
func (c *Collection) IterAllParts() []Part {
	var out []Part
	for _, is := range c.Shards() {
		out = append(out, is.Shard.Parts()...)
	}
	return out
}

// IterErrorParts returns the parts currently in error.
func (c *Collection) IterErrorParts() []Part {
	var out []Part
	for _, is := range c.Shards() {
		for _, p := range is.Shard.Parts() {
			if p.Error != nil {
				out = append(out, p)
			}
		}
	}
	return out
}

// find locates a part by (policy, location) across all shards of the
// collection, regardless of distributor compatibility.
func (c *Collection) find(policy, location string) (Part, bool) {
	for _, s := range c.shards {
		if p, ok := s.Get(policy, location); ok {
			return p, true
		}
	}
	return Part{}, false
}

// Difference returns the parts of c whose resources are not present in
// other. Comparison is by full-record hash, so a resource that changed in
// any field counts as new; a resource-id comparison would be more precise
// but is not what downstream consumers expect. The result always uses a
// single-shard distributor.
func (c *Collection) Difference(other *Collection) *Collection {
	out := ForDifference()
	for _, part := range c.IterParts() {
		existing, ok := other.find(part.Policy, part.Location)
		if !ok {
			out.PutPart(part)
			continue
		}
		if part.Error != nil {
			// The current part is in error: keep it as-is.
			out.PutPart(part)
			continue
		}
		if existing.LastSuccessfulTimestamp() == nil {
			// The other part never executed successfully.
			out.PutPart(part)
			continue
		}
		out.PutPart(Part{
			Policy:    part.Policy,
			Location:  part.Location,
			Timestamp: part.Timestamp,
			Resources: subtractResources(part.Resources, existing.Resources),
		})
	}
	return out
}

// UpdateMeta merges policy metadata into the collection.
func (c *Collection) UpdateMeta(other map[string]RuleMeta) {
	for rule, data := range other {
		c.meta[rule] = data
	}
}

// WriteAll persists every materialized shard through the IO backend.
func (c *Collection) WriteAll(ctx context.Context) error {
	for _, is := range c.Shards() {
		if err := c.io.Write(ctx, is.N, is.Shard); err != nil {
			return err
		}
	}
	return nil
}

// FetchByIndexes loads the given shards and distributes their parts.
func (c *Collection) FetchByIndexes(ctx context.Context, indexes []int) error {
	seen := make(map[int]struct{}, len(indexes))
	for _, n := range indexes {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		parts, err := c.io.ReadRaw(ctx, n)
		if err != nil {
			return err
		}
		c.PutParts(parts)
	}
	return nil
}

// FetchAll loads every shard the distributor knows about.
func (c *Collection) FetchAll(ctx context.Context) error {
	indexes := make([]int, c.distributor.ShardsNumber())
	for i := range indexes {
		indexes[i] = i
	}
	return c.FetchByIndexes(ctx, indexes)
}

// Fetch loads only the shard the given region distributes to.
func (c *Collection) Fetch(ctx context.Context, region string) error {
	return c.FetchByIndexes(ctx, []int{c.distributor.Distribute(region)})
}

// FetchModified re-loads only the shards that already hold local parts.
func (c *Collection) FetchModified(ctx context.Context) error {
	indexes := make([]int, 0, len(c.shards))
	for n := range c.shards {
		indexes = append(indexes, n)
	}
	return c.FetchByIndexes(ctx, indexes)
}

// FetchMeta loads policy metadata from the IO backend.
func (c *Collection) FetchMeta(ctx context.Context) error {
	meta, err := c.io.ReadMeta(ctx)
	if err != nil {
		return err
	}
	c.UpdateMeta(meta)
	return nil
}

// WriteMeta persists policy metadata, if any.
func (c *Collection) WriteMeta(ctx context.Context) error {
	if len(c.meta) == 0 {
		return nil
	}
	return c.io.WriteMeta(ctx, c.meta)
}
