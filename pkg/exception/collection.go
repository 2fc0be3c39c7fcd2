package exception

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/ruleengine/controlplane/pkg/shard"
)

// tagEnd is the leaf key of the tag prefix tree.
const tagEnd = "$$"

// tagNode is one node of the prefix tree over sorted tag tokens. A leaf
// carries the exception id under tagEnd.
type tagNode struct {
	children map[string]*tagNode
	leaf     uuid.UUID
	isLeaf   bool
}

func newTagNode() *tagNode {
	return &tagNode{children: make(map[string]*tagNode)}
}

// resourceKey identifies a resource by (id, type, location).
type resourceKey struct {
	id       string
	typ      string
	location string
}

// Collection indexes a tenant's non-expired exceptions for constant-time
// matching: by ARN, by resource triple, and by a prefix tree of tag tokens.
type Collection struct {
	exceptions map[uuid.UUID]ResourceException
	arnMap     map[string]uuid.UUID
	resMap     map[resourceKey]uuid.UUID
	tagsRoot   *tagNode
}

// NewCollection builds the match indexes from the given exceptions.
func NewCollection(exceptions []ResourceException) *Collection {
	c := &Collection{
		exceptions: make(map[uuid.UUID]ResourceException, len(exceptions)),
		arnMap:     make(map[string]uuid.UUID),
		resMap:     make(map[resourceKey]uuid.UUID),
		tagsRoot:   newTagNode(),
	}
	for _, e := range exceptions {
		c.exceptions[e.ID] = e
		switch {
		case e.ARN != "":
			c.arnMap[e.ARN] = e.ID
		case e.ResourceID != "":
			c.resMap[resourceKey{e.ResourceID, e.ResourceType, e.Location}] = e.ID
		case len(e.TagsFilters) > 0:
			c.expandTags(e.TagsFilters, e.ID)
		}
	}
	return c
}

// Get returns the exception behind an id.
func (c *Collection) Get(id uuid.UUID) (ResourceException, bool) {
	e, ok := c.exceptions[id]
	return e, ok
}

// Len returns the number of indexed exceptions.
func (c *Collection) Len() int {
	return len(c.exceptions)
}

func (c *Collection) expandTags(tagsFilters []string, id uuid.UUID) {
	tags := append([]string(nil), tagsFilters...)
	sort.Strings(tags)
	node := c.tagsRoot
	for _, tag := range tags {
		next, ok := node.children[tag]
		if !ok {
			next = newTagNode()
			node.children[tag] = next
		}
		node = next
	}
	node.isLeaf = true
	node.leaf = id
}

// matchTags walks the tree with the resource's sorted tag set; a match is
// any root-to-leaf path fully contained in the set.
func (c *Collection) matchTags(tags map[string]struct{}) (uuid.UUID, bool) {
	sorted := make([]string, 0, len(tags))
	for tag := range tags {
		sorted = append(sorted, tag)
	}
	sort.Strings(sorted)

	nodes := []*tagNode{c.tagsRoot}
	for _, tag := range sorted {
		for _, node := range nodes {
			if node.isLeaf {
				return node.leaf, true
			}
			if next, ok := node.children[tag]; ok {
				nodes = append(nodes, next)
			}
		}
	}
	for _, node := range nodes {
		if node.isLeaf {
			return node.leaf, true
		}
	}
	return uuid.Nil, false
}

// resourceTags extracts a resource's tags as "key=value" tokens. Both the
// AWS list-of-maps shape and the flat map shape are understood.
func resourceTags(resource shard.Resource) map[string]struct{} {
	out := make(map[string]struct{})
	switch tags := resource["tags"].(type) {
	case map[string]any:
		for k, v := range tags {
			out[fmt.Sprintf("%s=%v", k, v)] = struct{}{}
		}
	case []any:
		for _, item := range tags {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			key, _ := m["Key"].(string)
			value := m["Value"]
			if key != "" {
				out[fmt.Sprintf("%s=%v", key, value)] = struct{}{}
			}
		}
	}
	return out
}

func stringField(resource shard.Resource, keys ...string) string {
	for _, key := range keys {
		if s, ok := resource[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// Match checks a resource against the indexes in order: by ARN (or the
// cloud's ARN-like identifier), by (id, type, location), by tags.
func (c *Collection) Match(resource shard.Resource, resourceType, location string) (uuid.UUID, bool) {
	if arn := stringField(resource, "arn", "urn", "id"); arn != "" {
		if id, ok := c.arnMap[arn]; ok {
			return id, true
		}
	}
	if rid := stringField(resource, "id", "name"); rid != "" {
		if id, ok := c.resMap[resourceKey{rid, resourceType, location}]; ok {
			return id, true
		}
	}
	if len(c.tagsRoot.children) > 0 {
		if id, ok := c.matchTags(resourceTags(resource)); ok {
			return id, true
		}
	}
	return uuid.Nil, false
}
