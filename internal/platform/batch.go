package platform

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/batch"
	"github.com/aws/aws-sdk-go-v2/service/batch/types"
)

// BatchClient wraps AWS Batch with the three calls the control plane makes:
// submit, terminate, and describe.
type BatchClient struct {
	client        *batch.Client
	jobQueue      string
	jobDefinition string
}

// NewBatchClient creates a BatchClient bound to one queue and job definition.
func NewBatchClient(cfg aws.Config, jobQueue, jobDefinition string) *BatchClient {
	return &BatchClient{
		client:        batch.NewFromConfig(cfg),
		jobQueue:      jobQueue,
		jobDefinition: jobDefinition,
	}
}

// SubmitJob submits a job with the given name and environment and returns the
// Batch job id.
func (c *BatchClient) SubmitJob(ctx context.Context, name string, env map[string]string) (string, error) {
	vars := make([]types.KeyValuePair, 0, len(env))
	for k, v := range env {
		vars = append(vars, types.KeyValuePair{Name: aws.String(k), Value: aws.String(v)})
	}
	out, err := c.client.SubmitJob(ctx, &batch.SubmitJobInput{
		JobName:       aws.String(name),
		JobQueue:      aws.String(c.jobQueue),
		JobDefinition: aws.String(c.jobDefinition),
		ContainerOverrides: &types.ContainerOverrides{
			Environment: vars,
		},
	})
	if err != nil {
		return "", fmt.Errorf("submitting batch job %s: %w", name, err)
	}
	return aws.ToString(out.JobId), nil
}

// TerminateJob terminates a running job.
func (c *BatchClient) TerminateJob(ctx context.Context, jobID, reason string) error {
	_, err := c.client.TerminateJob(ctx, &batch.TerminateJobInput{
		JobId:  aws.String(jobID),
		Reason: aws.String(reason),
	})
	if err != nil {
		return fmt.Errorf("terminating batch job %s: %w", jobID, err)
	}
	return nil
}

// JobStatus is one executor-reported job state.
type JobStatus struct {
	JobID        string
	Status       string
	StatusReason string
}

// DescribeJobs returns the current state of up to 100 jobs per call; larger
// id sets are chunked automatically.
func (c *BatchClient) DescribeJobs(ctx context.Context, jobIDs []string) ([]JobStatus, error) {
	const chunk = 100
	var out []JobStatus
	for start := 0; start < len(jobIDs); start += chunk {
		end := start + chunk
		if end > len(jobIDs) {
			end = len(jobIDs)
		}
		resp, err := c.client.DescribeJobs(ctx, &batch.DescribeJobsInput{
			Jobs: jobIDs[start:end],
		})
		if err != nil {
			return nil, fmt.Errorf("describing batch jobs: %w", err)
		}
		for _, j := range resp.Jobs {
			out = append(out, JobStatus{
				JobID:        aws.ToString(j.JobId),
				Status:       string(j.Status),
				StatusReason: aws.ToString(j.StatusReason),
			})
		}
	}
	return out, nil
}
