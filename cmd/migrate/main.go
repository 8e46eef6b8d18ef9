package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"time"

	"go.uber.org/zap"

	"hatchup.org/internal/auth"
	"hatchup.org/internal/authz"
	"hatchup.org/internal/migrate"
	"hatchup.org/internal/obs"
	"hatchup.org/internal/store/pg"
	"hatchup.org/migrations"
)

func main() {
	var (
		dsn            = flag.String("dsn", os.Getenv("HATCHUP_PG_DSN"), "PostgreSQL DSN")
		migrationsPath = flag.String("migrations", "", "Directory with SQL migrations (default: embedded)")
		seedsPath      = flag.String("seeds", "", "Directory with SQL seeds")
		rolesFile      = flag.String("roles", os.Getenv("HATCHUP_ROLES_FILE"), "YAML role definitions for the roles command")
		email          = flag.String("email", "", "Account email for the superuser command")
		password       = flag.String("password", os.Getenv("HATCHUP_SUPERUSER_PASSWORD"), "Password for the superuser command")
	)
	flag.Parse()

	logger := obs.NewLogger("development", "info", "hatchup-migrate")
	defer func() { _ = logger.Sync() }()

	if *dsn == "" {
		logger.Fatal("missing DSN: provide via -dsn or HATCHUP_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		logger.Fatal("usage: migrate [up|down|seed|status|roles|superuser]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := pg.Open(*dsn, pg.PoolConfig{MaxOpenConns: 2})
	if err != nil {
		logger.Fatal("open db", zap.Error(err))
	}
	defer store.Close()

	var migrationsFS fs.FS = migrations.SQL()
	if *migrationsPath != "" {
		migrationsFS = os.DirFS(*migrationsPath)
	}
	var seedsFS fs.FS
	if *seedsPath != "" {
		seedsFS = os.DirFS(*seedsPath)
	}
	mgr := migrate.NewManager(store.DB(), migrationsFS, seedsFS)

	cmd := flag.Arg(0)
	switch cmd {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "seed":
		err = mgr.Seed(ctx)
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		if err == nil {
			for _, item := range history {
				fmt.Println(item)
			}
		}
	case "roles":
		var specs []authz.RoleBootstrapSpec
		specs, err = authz.LoadSpecs(*rolesFile)
		if err != nil {
			break
		}
		var ids map[string]string
		ids, err = authz.EnsureRoles(ctx, store, specs)
		if err == nil {
			names := make([]string, 0, len(ids))
			for name := range ids {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Printf("%s\t%s\n", ids[name], name)
			}
		}
	case "superuser":
		var hash string
		hash, err = auth.HashPassword(*password)
		if err != nil {
			break
		}
		var user auth.User
		user, err = store.CreateUser(ctx, *email, hash, true)
		if err == nil {
			fmt.Printf("%s\t%s\n", user.ID, user.Email)
		}
	default:
		logger.Fatal("unknown command", zap.String("command", cmd))
	}
	if err != nil {
		logger.Fatal("migrate failed", zap.String("command", cmd), zap.Error(err))
	}
	logger.Info("migrate done", zap.String("command", cmd))
}
