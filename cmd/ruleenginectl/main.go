package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ruleengine/controlplane/internal/app"
	"github.com/ruleengine/controlplane/internal/config"
)

const usage = `usage: ruleenginectl <command> [flags]

commands:
  serve             start the API server or the background worker
  migrate           apply global database migrations
  create-buckets    create blob-store buckets with lifecycle rules
  init-vault        generate and store the LM client signing key
  set-meta-repos    store rule-metadata repository credentials
  init              create the SYSTEM customer and initial admin user
  generate-openapi  emit the OpenAPI 3.0 spec to stdout
  show-permissions  dump the enabled permissions enumeration
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: loading config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, os.Args[1], os.Args[2:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, command string, args []string) error {
	switch command {
	case "serve":
		fs := flag.NewFlagSet("serve", flag.ExitOnError)
		mode := fs.String("mode", "", "run mode: api or worker (overrides RULEENGINE_MODE)")
		host := fs.String("host", "", "listen host (overrides RULEENGINE_HOST)")
		port := fs.Int("port", 0, "listen port (overrides RULEENGINE_PORT)")
		_ = fs.Parse(args)
		if *mode != "" {
			cfg.Mode = *mode
		}
		if *host != "" {
			cfg.Host = *host
		}
		if *port != 0 {
			cfg.Port = *port
		}
		return app.Run(ctx, cfg)

	case "migrate":
		return app.Migrate(cfg)

	case "create-buckets":
		fs := flag.NewFlagSet("create-buckets", flag.ExitOnError)
		snapshotDays := fs.Int("snapshot-days", 30, "expiry for objects tagged Type=DataSnapshot")
		_ = fs.Parse(args)
		return app.CreateBuckets(ctx, cfg, int32(*snapshotDays))

	case "init-vault":
		return app.InitVault(ctx, cfg)

	case "set-meta-repos":
		fs := flag.NewFlagSet("set-meta-repos", flag.ExitOnError)
		repos := fs.String("repositories", "", "comma-separated project:secret entries")
		_ = fs.Parse(args)
		if *repos == "" {
			return fmt.Errorf("--repositories is required")
		}
		return app.SetMetaRepos(ctx, cfg, strings.Split(*repos, ","))

	case "init":
		fs := flag.NewFlagSet("init", flag.ExitOnError)
		password := fs.String("password", os.Getenv("RULEENGINE_SYSTEM_PASSWORD"), "initial admin password (generated if empty)")
		_ = fs.Parse(args)
		return app.Init(ctx, cfg, *password)

	case "generate-openapi":
		return app.GenerateOpenAPI()

	case "show-permissions":
		return app.ShowPermissions()

	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command: %s", command)
	}
}
