package shard

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strconv"

	"github.com/ruleengine/controlplane/internal/platform"
)

// IO persists shards and their metadata.
type IO interface {
	// Write persists one shard under its index.
	Write(ctx context.Context, n int, s *Shard) error
	// ReadRaw reads the parts of one shard; a missing shard yields nil.
	ReadRaw(ctx context.Context, n int) ([]Part, error)
	// WriteMeta persists the policy metadata document.
	WriteMeta(ctx context.Context, meta map[string]RuleMeta) error
	// ReadMeta loads the policy metadata document; missing yields empty.
	ReadMeta(ctx context.Context) (map[string]RuleMeta, error)
}

// S3IO stores each shard at <prefix>/<n>.json and metadata at
// <prefix>/meta.json, all as gzipped JSON.
type S3IO struct {
	bucket string
	prefix string
	client *platform.S3Client
}

// NewS3IO creates an S3-backed shard IO under the given bucket and prefix.
func NewS3IO(client *platform.S3Client, bucket, prefix string) *S3IO {
	return &S3IO{bucket: bucket, prefix: prefix, client: client}
}

// Prefix returns the current root prefix.
func (io *S3IO) Prefix() string {
	return io.prefix
}

// SetPrefix repoints the IO at another collection prefix, so one IO can be
// reused for the per-job and the "latest" locations.
func (io *S3IO) SetPrefix(prefix string) {
	io.prefix = prefix
}

func (io *S3IO) key(n int) string {
	return path.Join(io.prefix, strconv.Itoa(n)+".json")
}

func (io *S3IO) Write(ctx context.Context, n int, s *Shard) error {
	body, err := json.Marshal(s.Parts())
	if err != nil {
		return fmt.Errorf("marshalling shard %d: %w", n, err)
	}
	return io.client.GzPutObject(ctx, io.bucket, io.key(n), body)
}

func (io *S3IO) ReadRaw(ctx context.Context, n int) ([]Part, error) {
	data, err := io.client.GzGetObject(ctx, io.bucket, io.key(n))
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}
	var parts []Part
	if err := json.Unmarshal(data, &parts); err != nil {
		return nil, fmt.Errorf("unmarshalling shard %d: %w", n, err)
	}
	return parts, nil
}

func (io *S3IO) WriteMeta(ctx context.Context, meta map[string]RuleMeta) error {
	return io.client.GzPutJSON(ctx, io.bucket, path.Join(io.prefix, "meta.json"), meta)
}

func (io *S3IO) ReadMeta(ctx context.Context) (map[string]RuleMeta, error) {
	meta := make(map[string]RuleMeta)
	if _, err := io.client.GzGetJSON(ctx, io.bucket, path.Join(io.prefix, "meta.json"), &meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// ReportPrefix builds the blob-store prefix for a tenant's findings:
// reports/<customer>/<cloud>/<tenant>/<scope>, where scope is a job id,
// "latest", or a platform-scoped variant.
func ReportPrefix(customer, cloud, tenant, scope string) string {
	return path.Join("reports", customer, cloud, tenant, scope)
}
