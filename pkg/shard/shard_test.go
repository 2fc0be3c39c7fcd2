package shard

import (
	"encoding/json"
	"reflect"
	"testing"
)

func strptr(s string) *string { return &s }

func TestPartLastSuccessfulTimestamp(t *testing.T) {
	ok := Part{Policy: "p", Location: "global", Timestamp: 10}
	if got := ok.LastSuccessfulTimestamp(); got == nil || *got != 10 {
		t.Errorf("successful part: got %v", got)
	}

	neverSucceeded := Part{Policy: "p", Location: "global", Timestamp: 10, Error: strptr("ACCESS:denied")}
	if got := neverSucceeded.LastSuccessfulTimestamp(); got != nil {
		t.Errorf("never-succeeded part: got %v, want nil", got)
	}

	prev := 5.0
	failedAfterSuccess := Part{Policy: "p", Location: "global", Timestamp: 10, Error: strptr("CLIENT:boom"), PreviousTimestamp: &prev}
	if got := failedAfterSuccess.LastSuccessfulTimestamp(); got == nil || *got != 5 {
		t.Errorf("failed-after-success part: got %v", got)
	}
}

func TestPartErrorKindMessage(t *testing.T) {
	p := Part{Error: strptr("CREDENTIALS:expired token")}
	if p.ErrorKind() != ErrorKindCredentials {
		t.Errorf("kind = %q", p.ErrorKind())
	}
	if p.ErrorMessage() != "expired token" {
		t.Errorf("message = %q", p.ErrorMessage())
	}
}

func TestShardPutLateArrivalDropped(t *testing.T) {
	s := NewShard()
	s.Put(Part{Policy: "p", Location: "us-east-1", Timestamp: 20, Resources: []Resource{{"id": "b"}}})
	s.Put(Part{Policy: "p", Location: "us-east-1", Timestamp: 10, Resources: []Resource{{"id": "a"}}})

	got, _ := s.Get("p", "us-east-1")
	if got.Timestamp != 20 {
		t.Errorf("timestamp = %v, want 20", got.Timestamp)
	}
	if got.Resources[0]["id"] != "b" {
		t.Errorf("resources = %v", got.Resources)
	}
}

func TestShardPutErrorCoalescing(t *testing.T) {
	s := NewShard()
	s.Put(Part{Policy: "p", Location: "us-east-1", Timestamp: 10, Resources: []Resource{{"id": "a"}}})
	s.Put(Part{Policy: "p", Location: "us-east-1", Timestamp: 20, Error: strptr("ACCESS:denied")})

	got, _ := s.Get("p", "us-east-1")
	if got.Timestamp != 20 {
		t.Errorf("timestamp = %v, want 20", got.Timestamp)
	}
	if got.Error == nil || *got.Error != "ACCESS:denied" {
		t.Errorf("error = %v", got.Error)
	}
	// The error part must keep the last successful resources and record when
	// they were produced.
	if len(got.Resources) != 1 || got.Resources[0]["id"] != "a" {
		t.Errorf("resources = %v", got.Resources)
	}
	if got.PreviousTimestamp == nil || *got.PreviousTimestamp != 10 {
		t.Errorf("previous timestamp = %v, want 10", got.PreviousTimestamp)
	}

	// A second failure keeps the original previous timestamp.
	s.Put(Part{Policy: "p", Location: "us-east-1", Timestamp: 30, Error: strptr("CLIENT:boom")})
	got, _ = s.Get("p", "us-east-1")
	if got.PreviousTimestamp == nil || *got.PreviousTimestamp != 10 {
		t.Errorf("previous timestamp after second failure = %v, want 10", got.PreviousTimestamp)
	}
}

func TestShardPutOrderIndependent(t *testing.T) {
	parts := []Part{
		{Policy: "p", Location: "us-east-1", Timestamp: 10, Resources: []Resource{{"id": "a"}}},
		{Policy: "p", Location: "us-east-1", Timestamp: 20, Error: strptr("ACCESS:denied")},
		{Policy: "p", Location: "us-east-1", Timestamp: 15, Resources: []Resource{{"id": "b"}}},
	}

	forward := NewShard()
	for _, p := range parts {
		forward.Put(p)
	}
	backward := NewShard()
	for i := len(parts) - 1; i >= 0; i-- {
		backward.Put(parts[i])
	}

	f, _ := forward.Get("p", "us-east-1")
	b, _ := backward.Get("p", "us-east-1")
	// The winner is the part with the largest timestamp; the resource
	// coalescing differs by arrival order only in which success fed the
	// error part: forward keeps the success at 10 (15 arrives after the
	// error and is dropped), backward keeps 15.
	if f.Timestamp != 20 || b.Timestamp != 20 {
		t.Errorf("timestamps: forward=%v backward=%v", f.Timestamp, b.Timestamp)
	}
	if f.Error == nil || b.Error == nil {
		t.Errorf("both merges must end in error state")
	}
}

func TestDistributors(t *testing.T) {
	single := SingleDistributor{}
	if single.Distribute("anything") != 0 || single.ShardsNumber() != 1 {
		t.Fatal("single distributor must map everything to shard 0")
	}

	d := NewAWSRegionDistributor(2)
	if d.ShardsNumber() != 2 {
		t.Fatalf("shards number = %d", d.ShardsNumber())
	}
	// global is index 0, us-east-1 index 1.
	if d.Distribute(GlobalRegion) != 0 {
		t.Errorf("global → %d, want 0", d.Distribute(GlobalRegion))
	}
	if d.Distribute("us-east-1") != 1 {
		t.Errorf("us-east-1 → %d, want 1", d.Distribute("us-east-1"))
	}
	// Unknown regions map to len(index) mod n deterministically.
	unknown := d.Distribute("mars-north-1")
	if unknown != d.Distribute("mars-north-1") {
		t.Error("unknown region distribution must be stable")
	}
	if got := DistributePart(d, Part{Location: "us-east-1"}); got != 1 {
		t.Errorf("DistributePart = %d, want 1", got)
	}
}

func TestCollectionFetchRoutesByDistributor(t *testing.T) {
	d := NewAWSRegionDistributor(2)
	c := NewCollection(d)
	parts := []Part{
		{Policy: "p1", Location: GlobalRegion, Timestamp: 1},
		{Policy: "p1", Location: "us-east-1", Timestamp: 1},
		{Policy: "p2", Location: "us-east-2", Timestamp: 1},
	}
	c.PutParts(parts)

	for _, is := range c.Shards() {
		for _, p := range is.Shard.Parts() {
			if d.Distribute(p.Location) != is.N {
				t.Errorf("part %s/%s landed in shard %d", p.Policy, p.Location, is.N)
			}
		}
	}
}

func TestCollectionDifference(t *testing.T) {
	newC := ForCloud("AWS")
	newC.PutPart(Part{Policy: "P", Location: "R", Timestamp: 2, Resources: []Resource{{"id": "a"}, {"id": "b"}}})
	oldC := ForCloud("AWS")
	oldC.PutPart(Part{Policy: "P", Location: "R", Timestamp: 1, Resources: []Resource{{"id": "a"}}})

	diff := newC.Difference(oldC)
	parts := diff.IterParts()
	if len(parts) != 1 {
		t.Fatalf("parts = %d, want 1", len(parts))
	}
	if len(parts[0].Resources) != 1 || parts[0].Resources[0]["id"] != "b" {
		t.Errorf("difference resources = %v", parts[0].Resources)
	}
	if _, ok := diff.Distributor().(SingleDistributor); !ok {
		t.Error("difference must use the single-shard distributor")
	}
}

func TestCollectionDifferenceLaws(t *testing.T) {
	c := ForCloud("AWS")
	c.PutPart(Part{Policy: "P", Location: "us-east-1", Timestamp: 2, Resources: []Resource{{"id": "a"}}})
	c.PutPart(Part{Policy: "Q", Location: GlobalRegion, Timestamp: 2, Resources: []Resource{{"id": "x"}, {"id": "y"}}})

	// C - C is empty.
	self := c.Difference(c)
	for _, p := range self.IterParts() {
		if len(p.Resources) != 0 {
			t.Errorf("C-C part %s has resources %v", p.Policy, p.Resources)
		}
	}

	// C - empty preserves all resource sets.
	empty := ForCloud("AWS")
	full := c.Difference(empty)
	want := map[string]int{"P": 1, "Q": 2}
	for _, p := range full.IterParts() {
		if len(p.Resources) != want[p.Policy] {
			t.Errorf("C-∅ part %s has %d resources, want %d", p.Policy, len(p.Resources), want[p.Policy])
		}
	}
}

func TestCollectionDifferenceKeepsErrorParts(t *testing.T) {
	prev := 1.0
	c := ForCloud("AWS")
	c.PutPart(Part{Policy: "P", Location: "R", Timestamp: 2, Error: strptr("ACCESS:x"), Resources: []Resource{{"id": "a"}}, PreviousTimestamp: &prev})
	other := ForCloud("AWS")
	other.PutPart(Part{Policy: "P", Location: "R", Timestamp: 1, Resources: []Resource{{"id": "a"}}})

	diff := c.Difference(other)
	parts := diff.IterAllParts()
	if len(parts) != 1 || parts[0].Error == nil {
		t.Fatalf("error part must pass through unchanged: %+v", parts)
	}
}

func TestPartJSONRoundTrip(t *testing.T) {
	prev := 1.5
	in := Part{
		Policy:            "ecc-aws-001-x",
		Location:          "us-east-1",
		Timestamp:         1700000000.25,
		Resources:         []Resource{{"id": "a", "tags": map[string]any{"env": "prod"}}},
		Error:             strptr("SKIPPED:region disabled"),
		PreviousTimestamp: &prev,
	}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	var out Part
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Errorf("round trip mismatch:\n in=%+v\nout=%+v", in, out)
	}

	// Short field names are the wire contract shared with the scanner.
	var raw map[string]any
	_ = json.Unmarshal(data, &raw)
	for _, key := range []string{"p", "l", "t", "r", "e", "T"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("missing wire field %q in %s", key, data)
		}
	}
}

func TestCollectionIterPartsSkipsNeverSucceeded(t *testing.T) {
	c := ForCloud("AZURE")
	c.PutPart(Part{Policy: "ok", Location: GlobalRegion, Timestamp: 1})
	c.PutPart(Part{Policy: "dead", Location: GlobalRegion, Timestamp: 1, Error: strptr("INTERNAL:x")})

	parts := c.IterParts()
	if len(parts) != 1 || parts[0].Policy != "ok" {
		t.Errorf("IterParts = %+v", parts)
	}
	errs := c.IterErrorParts()
	if len(errs) != 1 || errs[0].Policy != "dead" {
		t.Errorf("IterErrorParts = %+v", errs)
	}
}
