package shard

import (
	"context"
	"testing"
)

// memIO is an in-memory IO used to exercise collection fetch/write paths.
type memIO struct {
	shards map[int][]Part
	meta   map[string]RuleMeta
}

func newMemIO() *memIO {
	return &memIO{shards: make(map[int][]Part)}
}

func (m *memIO) Write(_ context.Context, n int, s *Shard) error {
	m.shards[n] = s.Parts()
	return nil
}

func (m *memIO) ReadRaw(_ context.Context, n int) ([]Part, error) {
	return m.shards[n], nil
}

func (m *memIO) WriteMeta(_ context.Context, meta map[string]RuleMeta) error {
	m.meta = meta
	return nil
}

func (m *memIO) ReadMeta(_ context.Context) (map[string]RuleMeta, error) {
	if m.meta == nil {
		return map[string]RuleMeta{}, nil
	}
	return m.meta, nil
}

func TestCollectionWriteFetchRoundTrip(t *testing.T) {
	ctx := context.Background()
	io := newMemIO()

	src := ForCloud("AWS").WithIO(io)
	src.PutPart(Part{Policy: "p1", Location: "us-east-1", Timestamp: 1, Resources: []Resource{{"id": "a"}}})
	src.PutPart(Part{Policy: "p2", Location: GlobalRegion, Timestamp: 1})
	src.UpdateMeta(map[string]RuleMeta{"p1": {Description: "d", Resource: "aws.s3"}})
	if err := src.WriteAll(ctx); err != nil {
		t.Fatal(err)
	}
	if err := src.WriteMeta(ctx); err != nil {
		t.Fatal(err)
	}

	dst := ForCloud("AWS").WithIO(io)
	if err := dst.FetchAll(ctx); err != nil {
		t.Fatal(err)
	}
	if err := dst.FetchMeta(ctx); err != nil {
		t.Fatal(err)
	}

	if got := len(dst.IterAllParts()); got != 2 {
		t.Fatalf("fetched %d parts, want 2", got)
	}
	if dst.Meta()["p1"].Resource != "aws.s3" {
		t.Errorf("meta = %+v", dst.Meta())
	}

	// Fetching only one region must load exactly that region's shard.
	one := ForCloud("AWS").WithIO(io)
	if err := one.Fetch(ctx, "us-east-1"); err != nil {
		t.Fatal(err)
	}
	for _, p := range one.IterAllParts() {
		d := one.Distributor()
		if d.Distribute(p.Location) != d.Distribute("us-east-1") {
			t.Errorf("fetched part from wrong shard: %+v", p)
		}
	}
}
