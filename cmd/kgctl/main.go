// Command kgctl is a demonstration CLI over the knowledge graph domain
// layer: register topics, record explorations, and run the traversal,
// snapshot, and integrity queries against whichever backend the config
// selects.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/explorekg/knowledge-graph/internal/archive"
	"github.com/explorekg/knowledge-graph/internal/config"
	"github.com/explorekg/knowledge-graph/internal/errors"
	"github.com/explorekg/knowledge-graph/internal/graph"
	"github.com/explorekg/knowledge-graph/internal/kg"
	"github.com/explorekg/knowledge-graph/internal/logging"
)

var (
	cfgPath    string
	actorFlag  string
	verbose    bool
	configured *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError(err)
		os.Exit(1)
	}
}

// printError reports a not-found condition distinctly from a backend or
// config fault, and expands to the full DetailedString (type, severity,
// cause, context) when --verbose is set.
func printError(err error) {
	var detail *errors.Error
	if e, ok := err.(*errors.Error); ok {
		detail = e
	}

	switch {
	case verbose && detail != nil:
		fmt.Fprintln(os.Stderr, detail.DetailedString())
	case errors.IsNotFound(err):
		fmt.Fprintf(os.Stderr, "not found: %v\n", err)
	default:
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
}

var rootCmd = &cobra.Command{
	Use:   "kgctl",
	Short: "Inspect and mutate a knowledge graph store",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if actorFlag != "" {
			cfg.Actor = actorFlag
		}
		configured = cfg
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&actorFlag, "actor", "", "actor address performing this operation")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "print full error detail (type, severity, context) on failure")

	rootCmd.AddCommand(
		registerTopicCmd,
		exploreCmd,
		accessCmd,
		listTopicsCmd,
		listSubtopicsCmd,
		topicStatsCmd,
		lineageCmd,
		descendantsCmd,
		shortestPathCmd,
		snapshotCmd,
		txLogCmd,
		verifyCmd,
		modeCmd,
	)
}

var modeCmd = &cobra.Command{
	Use:   "mode",
	Short: "Show the detected deployment mode and its credential source",
	RunE: func(cmd *cobra.Command, args []string) error {
		mode := config.GetMode()
		fmt.Printf("mode: %s (%s)\n", mode, mode.Description())
		fmt.Printf("credentials from: %s\n", mode.ConfigSource())
		return nil
	},
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	return logging.NewLogger(logging.Config{
		Level:      logging.ParseLevel(cfg.Logging.Level),
		OutputFile: cfg.Logging.OutputFile,
		JSONFormat: cfg.Logging.JSONFormat,
	})
}

// newBackend constructs the graph.Backend selected by cfg.Backend.Type,
// initializing it before returning.
func newBackend(ctx context.Context, cfg *config.Config) (graph.Backend, error) {
	switch cfg.Backend.Type {
	case "sqlite":
		backend, err := graph.NewSQLiteBackend(cfg.Backend.SQLitePath, logrus.New())
		if err != nil {
			return nil, err
		}
		if err := backend.Initialize(ctx); err != nil {
			return nil, err
		}
		return backend, nil

	case "neo4j":
		backend, err := graph.NewNeo4jBackend(ctx,
			cfg.Backend.Neo4jURI,
			cfg.Backend.Neo4jUsername,
			cfg.Backend.Neo4jPassword,
			cfg.Backend.Neo4jDatabase,
			cfg.Backend.Neo4jRateRPS,
		)
		if err != nil {
			return nil, err
		}
		if err := backend.Initialize(ctx); err != nil {
			return nil, err
		}
		return backend, nil

	default:
		backend := graph.NewMemoryBackend()
		if err := backend.Initialize(ctx); err != nil {
			return nil, err
		}
		return backend, nil
	}
}

// withGraph loads config-selected backend and logger, constructs a
// KnowledgeGraph bound to the actor, runs fn, and tears the backend down
// afterward.
func withGraph(fn func(ctx context.Context, g *kg.KnowledgeGraph) error) error {
	ctx := context.Background()

	if configured.Actor == "" {
		return errors.ValidationError("no actor address configured; pass --actor or set actor in the config file")
	}

	logger, err := newLogger(configured)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Close()

	backend, err := newBackend(ctx, configured)
	if err != nil {
		return fmt.Errorf("build backend: %w", err)
	}
	defer backend.Close(ctx)

	g := kg.New(backend, configured.Actor, logger)
	return fn(ctx, g)
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

var registerTopicCmd = &cobra.Command{
	Use:   "register-topic <path> <title> [description]",
	Short: "Register a topic at path",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		description := ""
		if len(args) == 3 {
			description = args[2]
		}
		return withGraph(func(ctx context.Context, g *kg.KnowledgeGraph) error {
			return g.RegisterTopic(ctx, args[0], kg.TopicInput{Title: args[1], Description: description})
		})
	},
}

var (
	exploreSummary string
	exploreDepth   int
	exploreTags    string
	explorePrice   string
	exploreGateway string
)

var exploreCmd = &cobra.Command{
	Use:   "explore <topic-path> <title> <content>",
	Short: "Record a new exploration under a topic",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGraph(func(ctx context.Context, g *kg.KnowledgeGraph) error {
			id, err := g.Explore(ctx, kg.ExploreInput{
				TopicPath:  args[0],
				Title:      args[1],
				Content:    args[2],
				Summary:    exploreSummary,
				Depth:      exploreDepth,
				Tags:       exploreTags,
				Price:      explorePrice,
				GatewayURL: exploreGateway,
			})
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		})
	},
}

func init() {
	exploreCmd.Flags().StringVar(&exploreSummary, "summary", "", "short summary of the exploration")
	exploreCmd.Flags().IntVar(&exploreDepth, "depth", 0, "author-assigned difficulty/level")
	exploreCmd.Flags().StringVar(&exploreTags, "tags", "", "comma-separated tags, including builds-on:<id>")
	exploreCmd.Flags().StringVar(&explorePrice, "price", "", "price, set together with --gateway-url to gate content")
	exploreCmd.Flags().StringVar(&exploreGateway, "gateway-url", "", "payment gateway URL for gated content")
}

var accessCmd = &cobra.Command{
	Use:   "access <topic-path> <entry-id>",
	Short: "Record an access to an exploration and print its content",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGraph(func(ctx context.Context, g *kg.KnowledgeGraph) error {
			result, err := g.Access(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(result)
		})
	},
}

var listTopicsCmd = &cobra.Command{
	Use:   "list-topics",
	Short: "List root topics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGraph(func(ctx context.Context, g *kg.KnowledgeGraph) error {
			topics, err := g.ListTopics(ctx)
			if err != nil {
				return err
			}
			return printJSON(topics)
		})
	},
}

var listSubtopicsCmd = &cobra.Command{
	Use:   "list-subtopics <path>",
	Short: "List direct subtopics of a topic",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGraph(func(ctx context.Context, g *kg.KnowledgeGraph) error {
			subtopics, err := g.ListSubtopics(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(subtopics)
		})
	},
}

var topicStatsCmd = &cobra.Command{
	Use:   "topic-stats <path>",
	Short: "Show explorer count and depth statistics for a topic",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGraph(func(ctx context.Context, g *kg.KnowledgeGraph) error {
			stats, err := g.GetTopicStats(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(stats)
		})
	},
}

var lineageCmd = &cobra.Command{
	Use:   "lineage <entry-id>",
	Short: "Show the longest builds-on ancestor chain for an exploration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGraph(func(ctx context.Context, g *kg.KnowledgeGraph) error {
			nodes, err := g.GetLineage(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(nodes)
		})
	},
}

var descendantsCmd = &cobra.Command{
	Use:   "descendants <entry-id>",
	Short: "Show every exploration that builds on the given one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGraph(func(ctx context.Context, g *kg.KnowledgeGraph) error {
			nodes, err := g.GetDescendants(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(nodes)
		})
	},
}

var shortestPathCmd = &cobra.Command{
	Use:   "shortest-path <from-id> <to-id>",
	Short: "Show the shortest builds-on path between two explorations",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGraph(func(ctx context.Context, g *kg.KnowledgeGraph) error {
			nodes, err := g.GetShortestPath(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(nodes)
		})
	},
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Take a point-in-time accounting snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGraph(func(ctx context.Context, g *kg.KnowledgeGraph) error {
			result, err := g.TakeSnapshot(ctx)
			if err != nil {
				return err
			}
			if configured.Archive.Enabled {
				if err := archiveSnapshot(ctx, g, result, configured.Archive.Path); err != nil {
					return fmt.Errorf("archive snapshot: %w", err)
				}
			}
			return printJSON(result)
		})
	},
}

func archiveSnapshot(ctx context.Context, g *kg.KnowledgeGraph, result kg.SnapshotResult, path string) error {
	a, err := archive.Open(path)
	if err != nil {
		return err
	}
	defer a.Close()

	snapshotNode := graph.Node{
		Label: graph.LabelSnapshot,
		ID:    result.ID,
		Properties: map[string]any{
			"node_count": float64(result.NodeCount),
			"rel_count":  float64(result.RelCount),
			"tx_count":   float64(result.TxCount),
		},
	}
	if err := a.ExportSnapshot(ctx, snapshotNode); err != nil {
		return err
	}

	txLog, err := g.GetTxLog(ctx, "", 0)
	if err != nil {
		return err
	}
	return a.ExportTxLog(ctx, txLog, graph.DefaultBatchConfig())
}

var (
	txLogSince string
	txLogLimit int
)

var txLogCmd = &cobra.Command{
	Use:   "txlog",
	Short: "List transaction log entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGraph(func(ctx context.Context, g *kg.KnowledgeGraph) error {
			entries, err := g.GetTxLog(ctx, txLogSince, txLogLimit)
			if err != nil {
				return err
			}
			return printJSON(entries)
		})
	},
}

func init() {
	txLogCmd.Flags().StringVar(&txLogSince, "since", "", "only entries at or after this RFC3339 timestamp")
	txLogCmd.Flags().IntVar(&txLogLimit, "limit", 0, "maximum entries to return (0 = unlimited)")
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify content-hash integrity of every exploration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGraph(func(ctx context.Context, g *kg.KnowledgeGraph) error {
			report, err := g.VerifyIntegrity(ctx)
			if err != nil {
				return err
			}
			return printJSON(report)
		})
	},
}
