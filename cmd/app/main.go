package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/scenecorpus/internal"
	"github.com/starford/scenecorpus/internal/apperr"
	"github.com/starford/scenecorpus/internal/assemble"
	pkgconfig "github.com/starford/scenecorpus/pkg/config"
)

const exampleConfig = "config/config.example.yaml"

func loadOptions(cmd *cli.Command) ([]internal.Option, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	used, err := pkgconfig.LoadFirst(cfg, configPath, exampleConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if used != configPath {
		slog.Warn("config file missing, using example", slog.String("path", used))
	}

	return []internal.Option{
		internal.WithConfig(cfg),
	}, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}

	if err := internal.Run(ctx, cmd.Bool("watch"), opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}

	return nil
}

func runPipeline(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}

	rep, err := internal.RunPipeline(ctx, assemble.Options{
		Sources:  cmd.StringSlice("source"),
		Force:    cmd.Bool("force"),
		DryCount: cmd.Bool("dry-count"),
	}, opts...)
	if rep != nil {
		fmt.Fprintf(os.Stdout, "run %s: %d records", rep.RunID, rep.FinalCount)
		if rep.DryCount {
			fmt.Fprint(os.Stdout, " (dry count)")
		}
		fmt.Fprintln(os.Stdout)
		for _, s := range rep.Sources {
			fmt.Fprintf(os.Stdout, "  %-20s %-8s extracted=%d rejected=%d surviving=%d final=%d\n",
				s.ID, s.Status, s.Extracted, s.RejectedTotal(), s.Surviving, s.Contribution)
		}
	}
	if err != nil {
		if errors.Is(err, apperr.ErrUnknownSource) {
			return cli.Exit(err.Error(), 2)
		}
		return fmt.Errorf("pipeline run error: %w", err)
	}
	return nil
}

func listSources(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	return internal.ListSources(ctx, os.Stdout, opts...)
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	return internal.ServeMCP(ctx, opts...)
}

func watchInputs(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	return internal.Watch(ctx, opts...)
}

func main() {
	cmd := &cli.Command{
		Name:   "scenecorpus",
		Usage:  "Assemble a deduplicated corpus of scene descriptions and animation code",
		Action: serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run the assembly pipeline once",
				Action: runPipeline,
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:    "source",
						Aliases: []string{"s"},
						Usage:   "Re-extract only these sources; others reuse their cache",
					},
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Ignore cached intermediates",
					},
					&cli.BoolFlag{
						Name:  "dry-count",
						Usage: "Report counts without writing the final dataset",
					},
				},
			},
			{
				Name:   "sources",
				Usage:  "List configured sources and their cache state",
				Action: listSources,
			},
			{
				Name:   "serve",
				Usage:  "Serve the dataset over HTTP",
				Action: serve,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "watch",
						Usage: "Re-run file-backed sources when their inputs change",
					},
				},
			},
			{
				Name:   "mcp",
				Usage:  "Serve the dataset to MCP clients over stdio",
				Action: serveMCP,
			},
			{
				Name:   "watch",
				Usage:  "Re-run file-backed sources when their inputs change",
				Action: watchInputs,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
