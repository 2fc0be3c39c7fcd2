package platform

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// SSMClient wraps SSM Parameter Store as a simple secret key/value store.
type SSMClient struct {
	client *ssm.Client
}

// NewSSMClient creates an SSMClient.
func NewSSMClient(cfg aws.Config) *SSMClient {
	return &SSMClient{client: ssm.NewFromConfig(cfg)}
}

// PutSecret stores value under name as a SecureString, overwriting any
// previous value.
func (c *SSMClient) PutSecret(ctx context.Context, name, value string) error {
	_, err := c.client.PutParameter(ctx, &ssm.PutParameterInput{
		Name:      aws.String(name),
		Value:     aws.String(value),
		Type:      types.ParameterTypeSecureString,
		Overwrite: aws.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("putting parameter %s: %w", name, err)
	}
	return nil
}

// GetSecret reads and decrypts a secret. Returns ("", nil) when the
// parameter does not exist.
func (c *SSMClient) GetSecret(ctx context.Context, name string) (string, error) {
	out, err := c.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		var nf *types.ParameterNotFound
		if errors.As(err, &nf) {
			return "", nil
		}
		return "", fmt.Errorf("getting parameter %s: %w", name, err)
	}
	return aws.ToString(out.Parameter.Value), nil
}

// DeleteSecret removes a secret; missing parameters are not an error.
func (c *SSMClient) DeleteSecret(ctx context.Context, name string) error {
	_, err := c.client.DeleteParameter(ctx, &ssm.DeleteParameterInput{
		Name: aws.String(name),
	})
	if err != nil {
		var nf *types.ParameterNotFound
		if errors.As(err, &nf) {
			return nil
		}
		return fmt.Errorf("deleting parameter %s: %w", name, err)
	}
	return nil
}
