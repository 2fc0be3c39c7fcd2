package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ruleengine/controlplane/internal/auth"
	"github.com/ruleengine/controlplane/internal/config"
	"github.com/ruleengine/controlplane/internal/platform"
	"github.com/ruleengine/controlplane/internal/seed"
	"github.com/ruleengine/controlplane/internal/telemetry"
	"github.com/ruleengine/controlplane/pkg/license"

	"github.com/ruleengine/controlplane/docs/api"
)

// opLogger builds the logger CLI operations share.
func opLogger(cfg *config.Config) *slog.Logger {
	return telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
}

// Migrate applies the global migration set. Tenant migrations run per
// tenant at provisioning time.
func Migrate(cfg *config.Config) error {
	if err := platform.RunGlobalMigrations(cfg.DatabaseURL, cfg.MigrationsGlobalDir); err != nil {
		return fmt.Errorf("running global migrations: %w", err)
	}
	opLogger(cfg).Info("global migrations applied")
	return nil
}

// CreateBuckets creates the blob-store buckets with their lifecycle rules:
// seven days for the on-demand and meta prefixes, configurable expiry for
// objects tagged as data snapshots.
func CreateBuckets(ctx context.Context, cfg *config.Config, snapshotDays int32) error {
	logger := opLogger(cfg)
	awsCfg, err := platform.NewAWSConfig(ctx, cfg.AWSRegion)
	if err != nil {
		return err
	}
	s3 := platform.NewS3Client(awsCfg)
	for _, bucket := range []string{cfg.RulesetsBucket, cfg.ReportsBucket, cfg.StatisticsBucket} {
		if err := s3.CreateBucket(ctx, bucket, cfg.AWSRegion); err != nil {
			return err
		}
		if err := s3.PutLifecycleRules(ctx, bucket, 7, []string{"on-demand/", "meta/"}, snapshotDays); err != nil {
			return err
		}
		logger.Info("bucket ensured", "bucket", bucket)
	}
	return nil
}

// InitVault generates the LM client signing key and persists it in the
// secret store. Idempotent: an existing key is kept.
func InitVault(ctx context.Context, cfg *config.Config) error {
	logger := opLogger(cfg)
	awsCfg, err := platform.NewAWSConfig(ctx, cfg.AWSRegion)
	if err != nil {
		return err
	}
	ssm := platform.NewSSMClient(awsCfg)

	existing, err := ssm.GetSecret(ctx, cfg.LMKeySecretName)
	if err != nil {
		return err
	}
	if existing != "" {
		logger.Info("LM signing key already present, keeping it", "name", cfg.LMKeySecretName)
		return nil
	}

	_, pemData, err := license.GenerateSigningKey(cfg.LMKeySecretName)
	if err != nil {
		return err
	}
	if err := ssm.PutSecret(ctx, cfg.LMKeySecretName, string(pemData)); err != nil {
		return err
	}
	logger.Info("LM signing key generated", "name", cfg.LMKeySecretName)
	return nil
}

// SetMetaRepos stores rule-metadata repository credentials in the secret
// store. Each entry is "project:secret".
func SetMetaRepos(ctx context.Context, cfg *config.Config, repositories []string) error {
	logger := opLogger(cfg)
	awsCfg, err := platform.NewAWSConfig(ctx, cfg.AWSRegion)
	if err != nil {
		return err
	}
	ssm := platform.NewSSMClient(awsCfg)

	for _, repo := range repositories {
		project, secret, ok := strings.Cut(repo, ":")
		if !ok || project == "" || secret == "" {
			return fmt.Errorf("invalid repository entry %q: want project:secret", repo)
		}
		name := "ruleengine.meta-repo." + strings.ReplaceAll(project, "/", ".")
		if err := ssm.PutSecret(ctx, name, secret); err != nil {
			return err
		}
		logger.Info("meta repository credentials stored", "project", project)
	}
	return nil
}

// Init creates the SYSTEM customer and the initial admin account. A
// generated password is printed exactly once.
func Init(ctx context.Context, cfg *config.Config, password string) error {
	logger := opLogger(cfg)
	pool, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	if err := platform.RunGlobalMigrations(cfg.DatabaseURL, cfg.MigrationsGlobalDir); err != nil {
		return fmt.Errorf("running global migrations: %w", err)
	}

	res, err := seed.Run(ctx, pool, cfg.DatabaseURL, cfg.MigrationsTenantDir, cfg.SystemCustomerName, password, logger)
	if err != nil {
		return err
	}
	if res.GeneratedPassword != "" {
		fmt.Fprintf(os.Stdout, "Initial %s password for user %q: %s\n",
			res.SystemCustomer, res.AdminUsername, res.GeneratedPassword)
	}
	return nil
}

// GenerateOpenAPI writes the OpenAPI 3.0 spec to stdout.
func GenerateOpenAPI() error {
	_, err := os.Stdout.Write(api.OpenAPISpec)
	return err
}

// ShowPermissions dumps the enabled role enumeration.
func ShowPermissions() error {
	for _, role := range auth.ValidRoles {
		fmt.Fprintln(os.Stdout, role)
	}
	return nil
}
