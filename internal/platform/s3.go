package platform

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Client wraps the AWS S3 client with the gzip-JSON conventions every blob
// this service writes follows (shards, ruleset bundles, event mappings).
type S3Client struct {
	client  *s3.Client
	presign *s3.PresignClient
}

// NewS3Client creates an S3Client from an AWS config.
func NewS3Client(cfg aws.Config) *S3Client {
	c := s3.NewFromConfig(cfg)
	return &S3Client{client: c, presign: s3.NewPresignClient(c)}
}

// GzPutObject gzips body through a temp file (to bound memory on large
// payloads) and uploads it.
func (c *S3Client) GzPutObject(ctx context.Context, bucket, key string, body []byte) error {
	tmp, err := os.CreateTemp("", "s3gz")
	if err != nil {
		return fmt.Errorf("creating gzip buffer: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	gz := gzip.NewWriter(tmp)
	if _, err := gz.Write(body); err != nil {
		return fmt.Errorf("gzipping object: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("flushing gzip: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewinding gzip buffer: %w", err)
	}

	_, err = c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(bucket),
		Key:             aws.String(key),
		Body:            tmp,
		ContentEncoding: aws.String("gzip"),
		ContentType:     aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("putting s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}

// GzGetObject downloads and gunzips an object. Returns (nil, nil) when the
// key does not exist.
func (c *S3Client) GzGetObject(ctx context.Context, bucket, key string) ([]byte, error) {
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	gz, err := gzip.NewReader(out.Body)
	if err != nil {
		return nil, fmt.Errorf("opening gzip stream: %w", err)
	}
	defer gz.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, gz); err != nil {
		return nil, fmt.Errorf("gunzipping s3://%s/%s: %w", bucket, key, err)
	}
	return buf.Bytes(), nil
}

// GzPutJSON marshals obj and uploads it gzipped.
func (c *S3Client) GzPutJSON(ctx context.Context, bucket, key string, obj any) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("marshalling object: %w", err)
	}
	return c.GzPutObject(ctx, bucket, key, data)
}

// GzGetJSON downloads, gunzips, and unmarshals an object into dst. Returns
// (false, nil) when the key does not exist.
func (c *S3Client) GzGetJSON(ctx context.Context, bucket, key string, dst any) (bool, error) {
	data, err := c.GzGetObject(ctx, bucket, key)
	if err != nil {
		return false, err
	}
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("unmarshalling s3://%s/%s: %w", bucket, key, err)
	}
	return true, nil
}

// PresignGet returns a presigned GET URL for the object.
func (c *S3Client) PresignGet(ctx context.Context, bucket, key string, expires time.Duration) (string, error) {
	req, err := c.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expires))
	if err != nil {
		return "", fmt.Errorf("presigning s3://%s/%s: %w", bucket, key, err)
	}
	return req.URL, nil
}

// DeleteObject removes a single object; missing keys are not an error.
func (c *S3Client) DeleteObject(ctx context.Context, bucket, key string) error {
	_, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("deleting s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}

// CreateBucket creates a bucket if it does not exist yet.
func (c *S3Client) CreateBucket(ctx context.Context, bucket, region string) error {
	_, err := c.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(bucket),
		CreateBucketConfiguration: &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(region),
		},
	})
	if err != nil {
		var exists *types.BucketAlreadyOwnedByYou
		if errors.As(err, &exists) {
			return nil
		}
		return fmt.Errorf("creating bucket %s: %w", bucket, err)
	}
	return nil
}

// PutLifecycleRules installs expiration rules on a bucket: short-lived
// prefixes expire after the given number of days; objects tagged
// Type=DataSnapshot get their own configurable expiration.
func (c *S3Client) PutLifecycleRules(ctx context.Context, bucket string, prefixDays int32, prefixes []string, snapshotDays int32) error {
	rules := make([]types.LifecycleRule, 0, len(prefixes)+1)
	for _, p := range prefixes {
		rules = append(rules, types.LifecycleRule{
			ID:         aws.String("expire-" + p),
			Status:     types.ExpirationStatusEnabled,
			Filter:     &types.LifecycleRuleFilter{Prefix: aws.String(p)},
			Expiration: &types.LifecycleExpiration{Days: aws.Int32(prefixDays)},
		})
	}
	if snapshotDays > 0 {
		rules = append(rules, types.LifecycleRule{
			ID:     aws.String("expire-data-snapshots"),
			Status: types.ExpirationStatusEnabled,
			Filter: &types.LifecycleRuleFilter{
				Tag: &types.Tag{Key: aws.String("Type"), Value: aws.String("DataSnapshot")},
			},
			Expiration: &types.LifecycleExpiration{Days: aws.Int32(snapshotDays)},
		})
	}
	_, err := c.client.PutBucketLifecycleConfiguration(ctx, &s3.PutBucketLifecycleConfigurationInput{
		Bucket:                 aws.String(bucket),
		LifecycleConfiguration: &types.BucketLifecycleConfiguration{Rules: rules},
	})
	if err != nil {
		return fmt.Errorf("putting lifecycle rules on %s: %w", bucket, err)
	}
	return nil
}
