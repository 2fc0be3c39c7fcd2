package exception

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ruleengine/controlplane/pkg/shard"
)

func exceptionByARN(arn string) ResourceException {
	return ResourceException{ID: uuid.New(), ARN: arn, ExpireAt: time.Now().Add(time.Hour)}
}

func TestCollectionMatchByARN(t *testing.T) {
	e := exceptionByARN("arn:aws:s3:::bucket-a")
	c := NewCollection([]ResourceException{e})

	id, ok := c.Match(shard.Resource{"arn": "arn:aws:s3:::bucket-a"}, "aws.s3", "us-east-1")
	if !ok || id != e.ID {
		t.Errorf("Match = %v, %v", id, ok)
	}
	if _, ok := c.Match(shard.Resource{"arn": "arn:aws:s3:::other"}, "aws.s3", "us-east-1"); ok {
		t.Error("unrelated ARN must not match")
	}
}

func TestCollectionMatchByResourceTriple(t *testing.T) {
	e := ResourceException{
		ID:           uuid.New(),
		ResourceID:   "i-123",
		ResourceType: "aws.ec2",
		Location:     "us-east-1",
		ExpireAt:     time.Now().Add(time.Hour),
	}
	c := NewCollection([]ResourceException{e})

	id, ok := c.Match(shard.Resource{"id": "i-123"}, "aws.ec2", "us-east-1")
	if !ok || id != e.ID {
		t.Errorf("Match = %v, %v", id, ok)
	}
	if _, ok := c.Match(shard.Resource{"id": "i-123"}, "aws.ec2", "eu-west-1"); ok {
		t.Error("wrong location must not match")
	}
}

func TestCollectionMatchByTags(t *testing.T) {
	e := ResourceException{
		ID:          uuid.New(),
		TagsFilters: []string{"env=dev", "team=platform"},
		ExpireAt:    time.Now().Add(time.Hour),
	}
	c := NewCollection([]ResourceException{e})

	// All listed tags present → match, extra tags are fine.
	resource := shard.Resource{"tags": map[string]any{"env": "dev", "team": "platform", "extra": "x"}}
	if id, ok := c.Match(resource, "", ""); !ok || id != e.ID {
		t.Errorf("Match = %v, %v", id, ok)
	}

	// Missing one required tag → no match.
	partial := shard.Resource{"tags": map[string]any{"env": "dev"}}
	if _, ok := c.Match(partial, "", ""); ok {
		t.Error("partial tag set must not match")
	}

	// AWS list-of-maps tag shape is understood too.
	awsShape := shard.Resource{"tags": []any{
		map[string]any{"Key": "env", "Value": "dev"},
		map[string]any{"Key": "team", "Value": "platform"},
	}}
	if _, ok := c.Match(awsShape, "", ""); !ok {
		t.Error("AWS tag shape must match")
	}
}

func TestExceptionMode(t *testing.T) {
	if (ResourceException{ARN: "a"}).Mode() != "arn" {
		t.Error("arn mode")
	}
	if (ResourceException{ResourceID: "i", ResourceType: "t", Location: "l"}).Mode() != "resource" {
		t.Error("resource mode")
	}
	if (ResourceException{TagsFilters: []string{"a=b"}}).Mode() != "tags" {
		t.Error("tags mode")
	}
	if (ResourceException{}).Mode() != "invalid" {
		t.Error("invalid mode")
	}
}

func TestFilterSplitsMatchedResources(t *testing.T) {
	e := exceptionByARN("arn:aws:s3:::excluded")
	c := NewCollection([]ResourceException{e})

	source := shard.ForCloud("AWS")
	source.PutPart(shard.Part{
		Policy:    "ecc-aws-001-x",
		Location:  "us-east-1",
		Timestamp: 1,
		Resources: []shard.Resource{
			{"arn": "arn:aws:s3:::excluded"},
			{"arn": "arn:aws:s3:::kept"},
		},
	})
	errMsg := "ACCESS:denied"
	source.PutPart(shard.Part{Policy: "ecc-aws-002-y", Location: "us-east-1", Timestamp: 1, Error: &errMsg})
	source.UpdateMeta(map[string]shard.RuleMeta{"ecc-aws-001-x": {Resource: "aws.s3"}})

	info := map[string]RuleInfo{"ecc-aws-001-x": {Severity: "High", Mitre: []string{"TA0005"}}}
	summaries, filtered := c.Filter(source, info)

	if len(summaries) != 1 {
		t.Fatalf("summaries = %+v", summaries)
	}
	s := summaries[0]
	if s.ExceptionID != e.ID || s.Resources != 1 {
		t.Errorf("summary = %+v", s)
	}
	if s.BySeverity["High"] != 1 || s.ByMitre["TA0005"] != 1 || s.ByPolicy["ecc-aws-001-x"] != 1 {
		t.Errorf("summary buckets = %+v", s)
	}

	var keptResources int
	for _, p := range filtered.IterParts() {
		keptResources += len(p.Resources)
	}
	if keptResources != 1 {
		t.Errorf("filtered collection has %d resources, want 1", keptResources)
	}
	// Error parts propagate unchanged.
	if len(filtered.IterErrorParts()) != 1 {
		t.Error("error part must pass through")
	}
}
