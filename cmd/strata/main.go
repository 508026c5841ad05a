// Command strata is the operational CLI for strata database directories:
// statistics, health checks, validation, repair, maintenance and backups.
// It works at the database level and never needs the record types.
//
// The passphrase for encrypted databases is read from STRATA_PASSPHRASE,
// never from a flag.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/strataio/strata"
	"github.com/strataio/strata/codec"
)

var (
	flagPath   string
	flagConfig string
)

func main() {
	root := &cobra.Command{
		Use:           "strata",
		Short:         "Operational tooling for strata database directories",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&flagPath, "path", "p", "", "database base path")
	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "config file (.yaml or .json)")

	root.AddCommand(
		entitiesCmd(),
		statsCmd(),
		healthCmd(),
		validateCmd(),
		repairCmd(),
		maintainCmd(),
		backupCmd(),
		restoreCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func openDB() (*strata.Database, error) {
	var cfg strata.Config
	if flagConfig != "" {
		loaded, err := strata.LoadConfig(flagConfig)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if flagPath != "" {
		cfg.BasePath = flagPath
	}
	if cfg.BasePath == "" {
		return nil, fmt.Errorf("no database path: pass --path or a config file with base_path")
	}
	if pass := os.Getenv("STRATA_PASSPHRASE"); pass != "" {
		cfg.EncryptionEnabled = true
		cfg.EncryptionPassphrase = pass
	}
	return strata.Open(cfg)
}

func printJSON(v any) error {
	data, err := codec.MarshalIndent(codec.Default, v)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}

func entitiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "entities",
		Short: "List the entities in the database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()
			for _, name := range db.Entities() {
				fmt.Println(name)
			}
			return nil
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print database statistics as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()
			stats, err := db.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(stats)
		},
	}
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Probe the database and report its health",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()
			res := db.HealthCheck(cmd.Context())
			if err := printJSON(res); err != nil {
				return err
			}
			if res.Status == strata.HealthUnhealthy {
				return fmt.Errorf("database is unhealthy")
			}
			return nil
		},
	}
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check metadata consistency across all entities",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()
			res, err := db.Validate(cmd.Context())
			if err != nil {
				return err
			}
			if err := printJSON(res); err != nil {
				return err
			}
			if !res.OK() {
				return fmt.Errorf("validation found %d error(s)", len(res.Errors))
			}
			return nil
		},
	}
}

func repairCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repair",
		Short: "Rebuild metadata from segment contents where it is inconsistent",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()
			actions, err := db.Repair(cmd.Context())
			for _, a := range actions {
				fmt.Println(a)
			}
			if err != nil {
				return err
			}
			if len(actions) == 0 {
				fmt.Println("nothing to repair")
			}
			return db.Flush(cmd.Context())
		},
	}
}

func maintainCmd() *cobra.Command {
	var (
		tempAge   time.Duration
		retention time.Duration
		rebuild   bool
	)
	cmd := &cobra.Command{
		Use:   "maintain",
		Short: "Remove stale temp files and prune retired segments",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()
			report, err := db.RunMaintenance(cmd.Context(), strata.MaintenanceOptions{
				TempFileMaxAge:   tempAge,
				SegmentRetention: retention,
				RebuildIndexes:   rebuild,
			})
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	}
	cmd.Flags().DurationVar(&tempAge, "temp-age", 0, "remove temp files older than this (0 uses config)")
	cmd.Flags().DurationVar(&retention, "retention", 0, "prune retired segments older than this (0 uses config)")
	cmd.Flags().BoolVar(&rebuild, "rebuild-indexes", false, "rebuild entity indexes from segments")
	return cmd
}

func backupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Manage backups in the database's backups directory",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "create",
			Short: "Create a full backup",
			RunE: func(cmd *cobra.Command, _ []string) error {
				db, err := openDB()
				if err != nil {
					return err
				}
				defer db.Close()
				id, err := db.Backup(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Println(id)
				return nil
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List completed backups, oldest first",
			RunE: func(cmd *cobra.Command, _ []string) error {
				db, err := openDB()
				if err != nil {
					return err
				}
				defer db.Close()
				ids, err := db.Backups(cmd.Context())
				if err != nil {
					return err
				}
				for _, id := range ids {
					fmt.Println(id)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete <id>",
			Short: "Delete a backup",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				db, err := openDB()
				if err != nil {
					return err
				}
				defer db.Close()
				return db.DeleteBackup(cmd.Context(), args[0])
			},
		},
	)
	return cmd
}

func restoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <id>",
		Short: "Replace the database contents with a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()
			if err := db.Restore(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Println("restored", args[0])
			return nil
		},
	}
}
