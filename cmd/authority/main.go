// authority manages the role and permission store of the hackathon
// registration app and serves its admin API.
//
// Usage:
//
//	authority migrate
//	authority seed --catalog catalog.yaml [--admin-user ID --admin-role SLUG]
//	authority check --user ID --permission entity:action:scope
//	authority serve
//
// Connection and server settings come from the environment (see
// internal/app.Config).
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"github.com/uptrace/bun"

	"github.com/hackreg/authority"
	"github.com/hackreg/authority/internal/app"
	"github.com/hackreg/authority/internal/platform/db"
)

// errDenied makes `check` exit non-zero when access is refused.
var errDenied = errors.New("access denied")

type env struct {
	cfg    *app.Config
	logger *slog.Logger
	stdout io.Writer
	conn   *bun.DB
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: load config: %v\n", err)
		os.Exit(1)
	}

	e := &env{cfg: cfg, logger: app.NewLogger(cfg), stdout: os.Stdout}
	err = e.run(ctx, os.Args[1:])
	e.close()
	if err != nil {
		if errors.Is(err, errDenied) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func (e *env) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		e.usage()
		return errors.New("missing command")
	}
	switch cmd, rest := args[0], args[1:]; cmd {
	case "migrate":
		return e.migrate(ctx, rest)
	case "seed":
		return e.seed(ctx, rest)
	case "check":
		return e.check(ctx, rest)
	case "serve":
		return e.serve(ctx, rest)
	case "help", "-h", "--help":
		e.usage()
		return nil
	default:
		e.usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (e *env) usage() {
	fmt.Fprint(e.stdout, `Usage: authority <command> [flags]

Commands:
  migrate   create the authorization tables
  seed      load a role and permission catalog from YAML
  check     report whether a user holds a permission
  serve     run the admin API and the access-denied page
`)
}

func (e *env) connect(ctx context.Context) (*bun.DB, error) {
	if e.conn != nil {
		return e.conn, nil
	}
	dsn, err := e.cfg.DSN()
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(ctx, dsn, e.logger)
	if err != nil {
		return nil, err
	}
	e.conn = conn
	return conn, nil
}

func (e *env) close() {
	if e.conn != nil {
		_ = e.conn.Close()
	}
}

func (e *env) authority(ctx context.Context, opts authority.Options) (*authority.Authority, error) {
	conn, err := e.connect(ctx)
	if err != nil {
		return nil, err
	}
	opts.DB = conn
	opts.TablesPrefix = e.cfg.TablesPrefix
	opts.ForbiddenPath = e.cfg.ForbiddenPath
	opts.Logger = e.logger
	return authority.New(ctx, opts)
}

func (e *env) migrate(ctx context.Context, args []string) error {
	flagSet := pflag.NewFlagSet("migrate", pflag.ContinueOnError)
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if _, err := e.authority(ctx, authority.Options{}); err != nil {
		return err
	}
	e.logger.Info("authorization tables ready", slog.String("prefix", e.cfg.TablesPrefix))
	return nil
}

func (e *env) seed(ctx context.Context, args []string) error {
	var catalogPath, adminUser, adminRole string
	flagSet := pflag.NewFlagSet("seed", pflag.ContinueOnError)
	flagSet.StringVar(&catalogPath, "catalog", "", "path to the YAML catalog")
	flagSet.StringVar(&adminUser, "admin-user", "", "user id to assign --admin-role to")
	flagSet.StringVar(&adminRole, "admin-role", "", "role slug granted to --admin-user")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if catalogPath == "" {
		return errors.New("--catalog is required")
	}
	if (adminUser == "") != (adminRole == "") {
		return errors.New("--admin-user and --admin-role must be used together")
	}

	f, err := os.Open(catalogPath)
	if err != nil {
		return err
	}
	defer f.Close()
	catalog, err := authority.LoadCatalog(f)
	if err != nil {
		return fmt.Errorf("load catalog %s: %w", catalogPath, err)
	}

	a, err := e.authority(ctx, authority.Options{})
	if err != nil {
		return err
	}

	err = a.RunInTx(ctx, func(ctx context.Context, tx *authority.Authority) error {
		if err := tx.ReplaceCatalog(ctx, catalog); err != nil {
			return err
		}
		if adminUser == "" {
			return nil
		}
		role, err := tx.RoleBySlug(ctx, adminRole)
		if err != nil {
			return fmt.Errorf("admin role %q: %w", adminRole, err)
		}
		return tx.AssignRoleToUser(ctx, authority.UserID(adminUser), role.ID)
	})
	if err != nil {
		return err
	}
	e.logger.Info("catalog applied",
		slog.Int("permissions", len(catalog.Permissions)),
		slog.Int("roles", len(catalog.Roles)),
	)
	return nil
}

func (e *env) check(ctx context.Context, args []string) error {
	var userID, perm string
	flagSet := pflag.NewFlagSet("check", pflag.ContinueOnError)
	flagSet.StringVar(&userID, "user", "", "user id")
	flagSet.StringVarP(&perm, "permission", "p", "", "required permission")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if perm == "" {
		return errors.New("--permission is required")
	}

	a, err := e.authority(ctx, authority.Options{})
	if err != nil {
		return err
	}

	d := a.Authorize(ctx, authority.UserID(userID), perm)
	if !d.Allowed {
		fmt.Fprintf(e.stdout, "denied: %s (%s)\n", perm, d.Reason)
		return errDenied
	}
	fmt.Fprintf(e.stdout, "allowed: %s\n", perm)
	return nil
}
