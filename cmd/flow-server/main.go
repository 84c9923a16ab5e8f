package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/internal/config"
	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/internal/domain/allocation"
	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/internal/domain/resource"
	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/internal/platform/db"
	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "flow-server",
		Short: "Hospital patient-flow allocation server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(siteCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the allocation API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// migrationSource returns the embedded migrations, or dir when given.
func migrationSource(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

// openPool connects with schema as the search path.
func openPool(ctx context.Context, schema string) (*pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
		Schema:   schema,
	})
	if err != nil {
		return nil, err
	}
	return pool, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			site, _ := cmd.Flags().GetString("site")
			dir, _ := cmd.Flags().GetString("dir")
			schema := db.SchemaFor(site)

			ctx := context.Background()
			pool, err := openPool(ctx, "")
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, migrationSource(dir))
			fmt.Printf("Running migrations on schema: %s\n", schema)

			if err := db.CreateSiteSchema(ctx, pool, site, nil); err != nil {
				return err
			}
			count, err := migrator.Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("site", "default", "Site whose schema is migrated")
	upCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			site, _ := cmd.Flags().GetString("site")
			dir, _ := cmd.Flags().GetString("dir")
			schema := db.SchemaFor(site)

			ctx := context.Background()
			pool, err := openPool(ctx, "")
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, migrationSource(dir))
			statuses, err := migrator.Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("site", "default", "Site whose schema is inspected")
	statusCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(statusCmd)

	return cmd
}

func siteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "site",
		Short: "Manage hospital sites",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create and migrate a site schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			ctx := context.Background()
			pool, err := openPool(ctx, "")
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Printf("Creating site schema: %s\n", db.SchemaFor(name))
			if err := db.CreateSiteSchema(ctx, pool, name, db.NewMigrator(pool, migrations.FS)); err != nil {
				return err
			}
			fmt.Println("Site created. Seed its units with: flow-server seed --site", name)
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Site identifier (alphanumeric)")

	cmd.AddCommand(createCmd)
	return cmd
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Provision the reference floor plan for a site",
		RunE: func(cmd *cobra.Command, args []string) error {
			site, _ := cmd.Flags().GetString("site")

			ctx := context.Background()
			pool, err := openPool(ctx, db.SchemaFor(site))
			if err != nil {
				return err
			}
			defer pool.Close()

			store := allocation.NewPGStore(pool)
			units := resource.Expand(resource.DefaultLayout, time.Now().UTC())
			added, err := store.SeedUnits(ctx, units)
			if err != nil {
				return err
			}
			fmt.Printf("Seeded %d of %d unit(s) for site %s.\n", added, len(units), site)
			return nil
		},
	}
	cmd.Flags().String("site", "default", "Site to seed")
	return cmd
}
