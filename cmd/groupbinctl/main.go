// Command groupbinctl is the operator CLI for groupbin's metadata store,
// built on github.com/urfave/cli/v2 — a direct teacher dependency,
// repurposed here from the teacher's "cmd/cli" admin tool to groupbin's
// own entities.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"groupbin/internal/blobstore"
	"groupbin/internal/cache"
	"groupbin/internal/clock"
	"groupbin/internal/config"
	"groupbin/internal/fileservice"
	"groupbin/internal/metastore"
	"groupbin/internal/reclaim"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "groupbinctl",
		Usage: "operator tooling for a groupbin deployment",
		Commands: []*cli.Command{
			createGroupCommand(),
			forceReclaimCommand(),
			inspectConfigCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openStores(cfg config.Config) (*metastore.Store, *blobstore.Store, error) {
	dbPath := cfg.DatabaseURI
	if !filepath.IsAbs(dbPath) && cfg.DataDir != "" {
		dbPath = filepath.Join(cfg.DataDir, dbPath)
	}
	meta, err := metastore.Open(dbPath, metastore.Options{})
	if err != nil {
		return nil, nil, err
	}
	return meta, blobstore.New(cfg.UploadFolder), nil
}

func createGroupCommand() *cli.Command {
	return &cli.Command{
		Name:  "create-group",
		Usage: "create a new group and print its id",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name"},
			&cli.Float64Flag{Name: "duration-hours", Value: 24},
			&cli.StringFlag{Name: "password"},
			&cli.StringFlag{Name: "creator"},
			&cli.BoolFlag{Name: "allow-convert-to-readonly", Value: true},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			meta, blobs, err := openStores(cfg)
			if err != nil {
				return err
			}
			defer meta.Close()

			groupCache, err := cache.NewGroupCache(1)
			if err != nil {
				return err
			}
			svc := fileservice.New(fileservice.Config{
				Meta:                      meta,
				Blobs:                     blobs,
				Groups:                    groupCache,
				Clock:                     clock.NewSystem(),
				DefaultGroupDurationHours: cfg.DefaultGroupDurationHours,
				MaxGroupDurationHours:     cfg.MaxGroupDurationHours,
			})

			groupID, err := svc.CreateGroup(context.Background(),
				c.String("name"), c.Float64("duration-hours"), c.String("password"),
				c.String("creator"), c.Bool("allow-convert-to-readonly"))
			if err != nil {
				return err
			}
			fmt.Println(groupID)
			return nil
		},
	}
}

func forceReclaimCommand() *cli.Command {
	return &cli.Command{
		Name:  "force-reclaim",
		Usage: "run one reclamation cycle immediately",
		Action: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			meta, blobs, err := openStores(cfg)
			if err != nil {
				return err
			}
			defer meta.Close()

			loop := reclaim.New(reclaim.Config{
				Meta:        meta,
				Blobs:       blobs,
				Clock:       clock.NewSystem(),
				UploadRoot:  cfg.UploadFolder,
				SessionsDir: filepath.Join(cfg.DataDir, "sessions"),
				DataHorizon: durationFromHours(cfg.CleanIntervalHourDeleteData),
				DBHorizon:   durationFromHours(cfg.CleanIntervalHourDeleteDB),
				ChunkTTL:    durationFromHours(cfg.TempFileExpirationHours),
				SessionTTL:  durationFromHours(cfg.CleanIntervalHourSessions),
			})
			loop.RunCycle(context.Background())
			fmt.Println("reclamation cycle complete")
			return nil
		},
	}
}

func inspectConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect-config",
		Usage: "print the resolved configuration",
		Action: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			fmt.Printf("upload_folder=%s\n", cfg.UploadFolder)
			fmt.Printf("data_dir=%s\n", cfg.DataDir)
			fmt.Printf("database_uri=%s\n", cfg.DatabaseURI)
			fmt.Printf("max_upload_size_mb=%d\n", cfg.MaxUploadSizeMB)
			fmt.Printf("default_group_duration_hours=%g\n", cfg.DefaultGroupDurationHours)
			fmt.Printf("max_group_duration_hours=%g\n", cfg.MaxGroupDurationHours)
			return nil
		},
	}
}

func durationFromHours(hours float64) time.Duration {
	return time.Duration(hours * float64(time.Hour))
}
