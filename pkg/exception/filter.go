package exception

import (
	"github.com/google/uuid"

	"github.com/ruleengine/controlplane/pkg/shard"
)

// Summary aggregates the resources an exception absorbed, bucketed by
// severity, violated policy, and MITRE tactic.
type Summary struct {
	ExceptionID uuid.UUID      `json:"exception_id"`
	Resources   int            `json:"resources"`
	BySeverity  map[string]int `json:"by_severity"`
	ByPolicy    map[string]int `json:"by_policy"`
	ByMitre     map[string]int `json:"by_mitre"`
}

// RuleInfo is the rule metadata the summary buckets derive from.
type RuleInfo struct {
	Severity string
	Mitre    []string
}

// Filter intersects a shards collection against the exception set: matched
// resources are grouped under their exception for the summary, unmatched
// resources flow into a fresh collection. Error parts pass through
// unchanged. ruleInfo may be nil when no metadata is available.
func (c *Collection) Filter(source *shard.Collection, ruleInfo map[string]RuleInfo) ([]Summary, *shard.Collection) {
	filtered := shard.NewCollection(source.Distributor())
	filtered.UpdateMeta(source.Meta())
	summaries := make(map[uuid.UUID]*Summary)

	meta := source.Meta()
	for _, part := range source.IterAllParts() {
		if part.Error != nil {
			filtered.PutPart(part)
			continue
		}
		resourceType := meta[part.Policy].Resource
		kept := make([]shard.Resource, 0, len(part.Resources))
		for _, resource := range part.Resources {
			id, ok := c.Match(resource, resourceType, part.Location)
			if !ok {
				kept = append(kept, resource)
				continue
			}
			s, exists := summaries[id]
			if !exists {
				s = &Summary{
					ExceptionID: id,
					BySeverity:  make(map[string]int),
					ByPolicy:    make(map[string]int),
					ByMitre:     make(map[string]int),
				}
				summaries[id] = s
			}
			s.Resources++
			s.ByPolicy[part.Policy]++
			if info, ok := ruleInfo[part.Policy]; ok {
				if info.Severity != "" {
					s.BySeverity[info.Severity]++
				}
				for _, tactic := range info.Mitre {
					s.ByMitre[tactic]++
				}
			}
		}
		filtered.PutPart(shard.Part{
			Policy:            part.Policy,
			Location:          part.Location,
			Timestamp:         part.Timestamp,
			Resources:         kept,
			PreviousTimestamp: part.PreviousTimestamp,
		})
	}

	out := make([]Summary, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, *s)
	}
	return out, filtered
}
