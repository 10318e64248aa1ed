package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/semidx/internal/config"
	"github.com/standardbeagle/semidx/internal/debug"
	"github.com/standardbeagle/semidx/internal/version"
)

var Version = version.Version

// loadConfigWithOverrides loads configuration and applies CLI flag overrides
func loadConfigWithOverrides(c *cli.Context) (*config.Config, error) {
	configPath := c.String("config")

	cfg, err := config.LoadWithRoot(configPath, c.String("root"))
	if err != nil {
		if configPath == "" {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
	}

	if includeFlags := c.StringSlice("include"); len(includeFlags) > 0 {
		cfg.Include = includeFlags
	}
	if excludeFlags := c.StringSlice("exclude"); len(excludeFlags) > 0 {
		cfg.Exclude = config.DeduplicatePatterns(append(cfg.Exclude, excludeFlags...))
	}
	if provider := c.String("embedder"); provider != "" {
		cfg.Embedding.Provider = provider
	}
	if model := c.String("model"); model != "" {
		cfg.Embedding.Model = model
	}

	if err := config.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Config file path (default: .semidx.kdl in the root, merged over ~/.semidx.kdl)",
		},
		&cli.StringFlag{
			Name:    "root",
			Aliases: []string{"r"},
			Usage:   "Workspace root to index",
			Value:   ".",
		},
		&cli.StringSliceFlag{
			Name:  "include",
			Usage: "Only index files matching glob patterns (e.g., --include '**/*.go')",
		},
		&cli.StringSliceFlag{
			Name:  "exclude",
			Usage: "Exclude files matching glob patterns (e.g., --exclude '**/testdata/**')",
		},
		&cli.StringFlag{
			Name:  "embedder",
			Usage: "Embedding provider: hash, openai, ollama or none",
		},
		&cli.StringFlag{
			Name:  "model",
			Usage: "Embedding model name for openai/ollama",
		},
		&cli.BoolFlag{
			Name:    "wait",
			Aliases: []string{"w"},
			Usage:   "Wait for the index to finish building before querying",
		},
		&cli.BoolFlag{
			Name:  "no-autostart",
			Usage: "Fail instead of starting a background index server",
		},
		&cli.BoolFlag{
			Name:  "debug-log",
			Usage: "Write debug output to a log file in the temp directory",
		},
	}
}

var jsonFlag = &cli.BoolFlag{
	Name:    "json",
	Aliases: []string{"j"},
	Usage:   "Output as JSON",
}

var minSimilarityFlag = &cli.Float64Flag{
	Name:    "min-similarity",
	Aliases: []string{"s"},
	Usage:   "Cosine similarity threshold in [-1, 1] (default from config)",
}

var topKFlag = &cli.IntFlag{
	Name:    "top-k",
	Aliases: []string{"k"},
	Usage:   "Maximum number of results (default from config)",
}

func newApp() *cli.App {
	return &cli.App{
		Name:                   "semidx",
		Usage:                  "Shared semantic code index: duplicates, semantic search and tree-sitter queries",
		Version:                Version,
		UseShortOptionHandling: true,
		Flags:                  globalFlags(),
		Before: func(c *cli.Context) error {
			if c.Bool("debug-log") {
				path, err := debug.InitDebugLogFile()
				if err != nil {
					return fmt.Errorf("failed to open debug log: %w", err)
				}
				fmt.Fprintf(c.App.ErrWriter, "Debug log: %s\n", path)
			}
			return nil
		},
		After: func(c *cli.Context) error {
			return debug.CloseDebugLog()
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the index server for the workspace (exits if one is already running)",
				Action: serveCommand,
			},
			{
				Name:   "status",
				Usage:  "Show index build progress",
				Flags:  []cli.Flag{jsonFlag},
				Action: statusCommand,
			},
			{
				Name:    "files",
				Aliases: []string{"ls"},
				Usage:   "List indexed files",
				Flags:   []cli.Flag{jsonFlag},
				Action:  filesCommand,
			},
			{
				Name:  "dups",
				Usage: "Find clusters of duplicate code across files",
				Flags: []cli.Flag{
					jsonFlag,
					minSimilarityFlag,
					&cli.IntFlag{
						Name:  "min-chunk-bytes",
						Usage: "Ignore chunks shorter than this (default from config)",
					},
				},
				Action: dupsCommand,
			},
			{
				Name:      "dups-file",
				Usage:     "Find code in other files similar to one file",
				ArgsUsage: "<file>",
				Flags:     []cli.Flag{jsonFlag, minSimilarityFlag, topKFlag},
				Action:    dupsFileCommand,
			},
			{
				Name:      "search",
				Aliases:   []string{"s"},
				Usage:     "Semantic search over code chunks",
				ArgsUsage: "<text>",
				Flags:     []cli.Flag{jsonFlag, minSimilarityFlag, topKFlag},
				Action:    searchCommand,
			},
			{
				Name:      "query",
				Aliases:   []string{"q"},
				Usage:     "Run a tree-sitter query against parsed files",
				ArgsUsage: "<s-expression>",
				Flags: []cli.Flag{
					jsonFlag,
					&cli.StringSliceFlag{
						Name:    "file",
						Aliases: []string{"f"},
						Usage:   "Restrict to a file (repeatable)",
					},
					&cli.StringFlag{
						Name:    "language",
						Aliases: []string{"l"},
						Usage:   "Restrict to a language by name (go) or extension (.go)",
					},
				},
				Action: queryCommand,
			},
			{
				Name:      "invalidate",
				Usage:     "Re-index one file after it changed",
				ArgsUsage: "<file>",
				Flags:     []cli.Flag{jsonFlag},
				Action:    invalidateCommand,
			},
			{
				Name:   "ping",
				Usage:  "Check the index server is alive",
				Flags:  []cli.Flag{jsonFlag},
				Action: pingCommand,
			},
			{
				Name:  "shutdown",
				Usage: "Stop the index server",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Force shutdown",
					},
				},
				Action: shutdownCommand,
			},
			{
				Name:   "mcp",
				Usage:  "Serve the index as MCP tools over stdio",
				Action: mcpCommand,
			},
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
