package main

import (
	"fmt"
	"os"

	"github.com/marcelsud/webhook-intake/config"
	"github.com/marcelsud/webhook-intake/webhook/postgres"
)

/* migrate - applies the embedded PostgreSQL migrations
 * Usage: go run ./cmd/migrate [up|down|version]
 * Reads DATABASE_URL like the API does.
 */

func main() {
	command := "up"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	cfg, err := config.GetConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}

	repo, err := postgres.NewRepository(cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer repo.DB.Close()

	switch command {
	case "up":
		err = postgres.Migrate(repo.DB.DB)
	case "down":
		err = postgres.MigrateDown(repo.DB.DB)
	case "version":
		var (
			version uint
			dirty   bool
		)
		version, dirty, err = postgres.MigrationVersion(repo.DB.DB)
		if err == nil {
			fmt.Printf("version %d (dirty: %t)\n", version, dirty)
		}
	default:
		err = fmt.Errorf("unknown command %q (want up, down or version)", command)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if command != "version" {
		fmt.Printf("migrations %s: done\n", command)
	}
}
