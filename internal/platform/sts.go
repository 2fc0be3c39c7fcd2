package platform

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// STSClient answers "whose credentials are these" for the AWS
// cloud-identifier check during job admission.
type STSClient struct {
	cfg aws.Config
}

// NewSTSClient creates an STSClient.
func NewSTSClient(cfg aws.Config) *STSClient {
	return &STSClient{cfg: cfg}
}

// CallerAccount returns the AWS account id the given static credentials
// belong to.
func (c *STSClient) CallerAccount(ctx context.Context, accessKeyID, secretAccessKey, sessionToken string) (string, error) {
	cfg := c.cfg.Copy()
	cfg.Credentials = credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, sessionToken)
	out, err := sts.NewFromConfig(cfg).GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("getting caller identity: %w", err)
	}
	return aws.ToString(out.Account), nil
}
