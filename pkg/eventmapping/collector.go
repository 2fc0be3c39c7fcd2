package eventmapping

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ruleengine/controlplane/internal/platform"
	"github.com/ruleengine/controlplane/pkg/ruleset"
)

// Collector derives event mappings from rule metadata and publishes them
// for a (licenseKey, version) through OnRefresh.
type Collector struct {
	s3     *platform.S3Client
	bucket string
	logger *slog.Logger
}

// NewCollector creates a Collector publishing into the given bucket.
func NewCollector(s3 *platform.S3Client, bucket string, logger *slog.Logger) *Collector {
	return &Collector{s3: s3, bucket: bucket, logger: logger}
}

// OnRefresh rebuilds the per-cloud mappings from the given rules and
// publishes one blob per cloud that has any mapped events.
func (c *Collector) OnRefresh(ctx context.Context, licenseKey, version string, rules []*ruleset.Rule) error {
	byCloud := map[string]Mapping{
		"AWS":    {},
		"AZURE":  {},
		"GOOGLE": {},
	}
	for _, rule := range rules {
		if len(rule.Events) == 0 {
			continue
		}
		mapping, ok := byCloud[rule.Cloud]
		if !ok {
			c.logger.Warn("skipping event mapping for unmapped cloud", "cloud", rule.Cloud, "rule", rule.Name)
			continue
		}
		for source, eventNames := range rule.Events {
			for _, eventName := range eventNames {
				mapping.add(source, eventName, rule.Name)
			}
		}
	}

	var published int
	for cloud, mapping := range byCloud {
		if len(mapping) == 0 {
			continue
		}
		key := Key(licenseKey, version, cloud)
		if err := c.s3.GzPutJSON(ctx, c.bucket, key, mapping); err != nil {
			return fmt.Errorf("publishing %s event mapping: %w", cloud, err)
		}
		published++
	}
	c.logger.Info("event mappings published",
		"license_key", licenseKey,
		"version", version,
		"clouds", published,
	)
	return nil
}
