// Package eventmapping builds and serves the per-license, per-cloud
// source→eventName→[]ruleName mappings the event assembler uses to turn
// audit events into rules to re-scan. Mappings are derived from rule
// metadata on every metadata refresh and published as gzipped JSON blobs.
package eventmapping

import (
	"path"
)

// Mapping is source → eventName → rule names.
type Mapping map[string]map[string][]string

// Rules returns the rule names mapped to (source, eventName).
func (m Mapping) Rules(source, eventName string) []string {
	return m[source][eventName]
}

// add inserts a rule under (source, eventName).
func (m Mapping) add(source, eventName, ruleName string) {
	byEvent, ok := m[source]
	if !ok {
		byEvent = make(map[string][]string)
		m[source] = byEvent
	}
	byEvent[eventName] = append(byEvent[eventName], ruleName)
}

// Key builds the blob-store key for a mapping:
// mappings/<licenseKey>/<version>/events/<cloud>.json.gz
func Key(licenseKey, version, cloud string) string {
	return path.Join("mappings", licenseKey, version, "events", lower(cloud)+".json.gz")
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 32
		}
	}
	return string(b)
}

// Clouds that carry event mappings.
var mappedClouds = map[string]struct{}{
	"AWS":    {},
	"AZURE":  {},
	"GOOGLE": {},
}
