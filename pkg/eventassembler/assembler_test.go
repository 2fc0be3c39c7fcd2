package eventassembler

import (
	"container/heap"
	"reflect"
	"sort"
	"testing"
)

func TestWithoutDuplicates(t *testing.T) {
	a := map[string]any{"eventName": "DeleteBucket", "region": "us-east-1"}
	b := map[string]any{"region": "us-east-1", "eventName": "DeleteBucket"} // same keys, different order
	c := map[string]any{"eventName": "CreateBucket", "region": "us-east-1"}

	out := withoutDuplicates([]map[string]any{a, b, c, a})
	if len(out) != 2 {
		t.Fatalf("deduped to %d records, want 2", len(out))
	}
	if out[0]["eventName"] != "DeleteBucket" || out[1]["eventName"] != "CreateBucket" {
		t.Errorf("order not preserved: %v", out)
	}
}

func TestDeepGet(t *testing.T) {
	record := map[string]any{
		"detail": map[string]any{
			"userIdentity": map[string]any{"accountId": "123"},
		},
	}
	if got := deepGet(record, "detail", "userIdentity", "accountId"); got != "123" {
		t.Errorf("deepGet = %q", got)
	}
	if got := deepGet(record, "detail", "missing", "x"); got != "" {
		t.Errorf("missing path = %q", got)
	}
}

func TestEventHeapMergeOrder(t *testing.T) {
	h := &eventHeap{}
	for _, ts := range []float64{12, 10, 15} {
		heap.Push(h, Event{Timestamp: ts})
	}
	heap.Init(h)
	var got []float64
	for h.Len() > 0 {
		got = append(got, heap.Pop(h).(Event).Timestamp)
	}
	if !reflect.DeepEqual(got, []float64{10, 12, 15}) {
		t.Errorf("merge order = %v", got)
	}
}

func TestAWSProcessorPrepared(t *testing.T) {
	p := awsProcessor{deploymentAccountID: "999"}
	records := []map[string]any{
		{
			"detail-type": "AWS API Call via CloudTrail",
			"detail": map[string]any{
				"eventName":    "DeleteBucket",
				"eventSource":  "s3.amazonaws.com",
				"userIdentity": map[string]any{"accountId": "A1"},
				"awsRegion":    "us-east-1",
			},
		},
		{
			// Self-event: our own deployment account.
			"detail-type": "AWS API Call via CloudTrail",
			"detail": map[string]any{
				"eventName":    "DeleteBucket",
				"eventSource":  "s3.amazonaws.com",
				"userIdentity": map[string]any{"accountId": "999"},
				"awsRegion":    "us-east-1",
			},
		},
		{
			// Not a CloudTrail API call.
			"detail-type": "EC2 Instance State-change Notification",
			"detail":      map[string]any{},
		},
	}

	out := p.prepared(records)
	if len(out) != 1 {
		t.Fatalf("prepared %d records, want 1", len(out))
	}
	if deepGet(out[0], "detail", "userIdentity", "accountId") != "A1" {
		t.Errorf("stripped record = %v", out[0])
	}
}

func TestAWSProcessorGroup(t *testing.T) {
	p := awsProcessor{}
	records := p.prepared([]map[string]any{
		{
			"detail-type": "AWS API Call via CloudTrail",
			"detail": map[string]any{
				"eventName":    "DeleteBucket",
				"eventSource":  "s3.amazonaws.com",
				"userIdentity": map[string]any{"accountId": "A1"},
				"awsRegion":    "us-east-1",
			},
		},
	})
	grouped := p.group(records, func(accountID, source, eventName string) []string {
		if accountID == "A1" && source == "s3.amazonaws.com" && eventName == "DeleteBucket" {
			return []string{"ecc-aws-100-s3-delete"}
		}
		return nil
	})

	rules := grouped["A1"]["us-east-1"]
	if len(rules) != 1 {
		t.Fatalf("grouped = %v", grouped)
	}
	if _, ok := rules["ecc-aws-100-s3-delete"]; !ok {
		t.Errorf("rules = %v", rules)
	}
}

func TestMaestroProcessorPrepared(t *testing.T) {
	p := maestroProcessor{}
	records := []map[string]any{
		{
			"eventAction": "STOP",
			"group":       "MANAGEMENT",
			"subGroup":    "INSTANCE",
			"eventMetadata": map[string]any{
				"request": map[string]any{"cloud": "AZURE"},
			},
			"tenantName": "T1",
		},
		{
			// AWS maestro events are intentionally ignored.
			"eventAction": "STOP",
			"group":       "MANAGEMENT",
			"subGroup":    "INSTANCE",
			"eventMetadata": map[string]any{
				"request": map[string]any{"cloud": "AWS"},
			},
			"tenantName": "T2",
		},
		{
			// Wrong group.
			"eventAction": "STOP",
			"group":       "BILLING",
			"subGroup":    "INSTANCE",
			"eventMetadata": map[string]any{
				"request": map[string]any{"cloud": "AZURE"},
			},
			"tenantName": "T3",
		},
	}
	out := p.prepared(records)
	if len(out) != 1 {
		t.Fatalf("prepared %d records, want 1", len(out))
	}
	if deepGet(out[0], "tenantName") != "T1" {
		t.Errorf("record = %v", out[0])
	}
}

func TestMaestroProcessorGroupRegionsAreGlobal(t *testing.T) {
	p := maestroProcessor{}
	records := p.prepared([]map[string]any{
		{
			"eventAction": "STOP",
			"group":       "MANAGEMENT",
			"subGroup":    "INSTANCE",
			"eventMetadata": map[string]any{
				"request": map[string]any{"cloud": "AZURE"},
			},
			"tenantName": "T1",
			"regionName": "AzureWestEurope",
		},
	})
	grouped := p.group(records, func(cloud, tenantName, source, eventName string) []string {
		return []string{"ecc-azure-050-vm-stopped"}
	})

	rules := grouped["AZURE"]["T1"]["global"]
	if len(rules) != 1 {
		t.Fatalf("grouped = %v", grouped)
	}
}

func TestRestrictRegionRuleMap(t *testing.T) {
	mapping := map[string]map[string]struct{}{
		"us-east-1": {"r1": {}, "r2": {}},
		"eu-west-1": {"r3": {}},
	}
	allowed := map[string]struct{}{"r1": {}}

	got := restrictRegionRuleMap(mapping, allowed)
	if len(got) != 1 {
		t.Fatalf("restricted = %v", got)
	}
	if _, ok := got["us-east-1"]["r1"]; !ok {
		t.Errorf("restricted = %v", got)
	}
}

func TestCompressRegionRuleMap(t *testing.T) {
	mapping := map[string]map[string]struct{}{
		"eu-central-1": {"one": {}, "two": {}, "three": {}},
		"eu-west-1":    {"one": {}, "two": {}, "four": {}},
		"eu-west-2":    {"one": {}, "five": {}},
	}
	got := compressRegionRuleMap(mapping)

	want := map[string][]string{
		"eu-central-1,eu-west-1":           {"two"},
		"eu-central-1":                     {"three"},
		"eu-central-1,eu-west-1,eu-west-2": {"one"},
		"eu-west-1":                        {"four"},
		"eu-west-2":                        {"five"},
	}
	if len(got) != len(want) {
		t.Fatalf("compressed = %v, want %v", got, want)
	}
	for key, rules := range want {
		gotRules := got[key]
		sort.Strings(gotRules)
		if !reflect.DeepEqual(gotRules, rules) {
			t.Errorf("key %q = %v, want %v", key, gotRules, rules)
		}
	}
}
