package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/OFFIS-RIT/warehouse-risk/internal/app"
	"github.com/OFFIS-RIT/warehouse-risk/internal/config"
	"github.com/OFFIS-RIT/warehouse-risk/internal/queue"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/common"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/graph"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/risk"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/schema"
	pgxstore "github.com/OFFIS-RIT/warehouse-risk/pkg/store/pgx"
)

type options struct {
	demo    bool
	jsonOut bool
	trace   bool
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question about warehouse risk",
		Long: `Ask answers natural language questions about warehouses, their
infrastructure, risk events and markets, grounded in the knowledge graph.

  ask "Show me the top 5 highest risk warehouses"
  ask --demo "Which warehouses are in flood-prone areas without flood protection?"`,
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app.App) error {
				ans, err := a.Pipeline.Ask(cmd.Context(), strings.Join(args, " "))
				if err != nil {
					return userError(err)
				}
				if !opts.trace {
					ans.Trace = nil
				}
				if opts.jsonOut {
					return writeJSON(out, ans)
				}
				fmt.Fprintln(out, ans.Text)
				fmt.Fprintf(out, "\n(%s, %d records, %dms)\n", ans.Metadata.Intent, ans.Metadata.RecordCount, ans.Metadata.DurationMs)
				return nil
			})
		},
	}
	root.PersistentFlags().BoolVar(&opts.demo, "demo", false, "use the built-in demo graph without a language model")
	root.PersistentFlags().BoolVar(&opts.jsonOut, "json", false, "print JSON")
	root.Flags().BoolVar(&opts.trace, "trace", false, "include the stage trace in JSON output")

	root.AddCommand(newProfileCmd(out, opts), newReportCmd(out, opts), newSeedCmd(out))
	return root
}

func newProfileCmd(out io.Writer, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "profile <warehouse-id>",
		Short: "Show the risk score and recommendations of one warehouse",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app.App) error {
				p, err := a.Scores.Profile(cmd.Context(), args[0])
				if errors.Is(err, common.ErrNotFound) {
					return fmt.Errorf("no warehouse %q", args[0])
				}
				if err != nil {
					return userError(err)
				}
				if opts.jsonOut {
					return writeJSON(out, p)
				}
				printProfile(out, p)
				return nil
			})
		},
	}
}

func newReportCmd(out io.Writer, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Score every warehouse of the current snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, func(a *app.App) error {
				r, err := a.Scores.Report(cmd.Context())
				if err != nil {
					return userError(err)
				}
				if opts.jsonOut {
					return writeJSON(out, r)
				}
				w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "WAREHOUSE\tSCORE\tLEVEL\tRECOMMENDATIONS\tDEGRADED")
				for _, p := range r.Warehouses {
					fmt.Fprintf(w, "%s\t%.2f\t%s\t%d\t%t\n", p.Score.EntityID, p.Score.OverallScore, p.Level, len(p.Recommendations), p.Score.Degraded)
				}
				return w.Flush()
			})
		},
	}
}

func newSeedCmd(out io.Writer) *cobra.Command {
	var signal bool
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Publish the demo graph as a new snapshot to Postgres",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return errors.New("seed needs DATABASE_URL")
			}
			if err := pgxstore.Migrate(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
				return err
			}

			ctx := cmd.Context()
			pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()

			batch := graph.DemoBatch()
			version, err := pgxstore.NewSnapshotStore(pool, schema.Warehouse()).Publish(ctx, batch)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "published snapshot %d (%d entities, %d relationships)\n", version, len(batch.Entities), len(batch.Relationships))

			if !signal {
				return nil
			}
			return publishSignal(ctx, cfg, version, batch)
		},
	}
	cmd.Flags().BoolVar(&signal, "signal", true, "announce the snapshot on RabbitMQ when configured")
	return cmd
}

func publishSignal(ctx context.Context, cfg config.Config, version uint64, batch graph.Batch) error {
	url := cfg.RabbitMQ.URL()
	if url == "" {
		return nil
	}
	conn, err := queue.Dial(url)
	if err != nil {
		return err
	}
	defer conn.Close()
	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	ids := make([]string, 0, len(batch.Entities))
	for _, e := range batch.Entities {
		ids = append(ids, e.ID)
	}
	return queue.PublishSnapshotUpdated(ctx, ch, queue.SnapshotEvent{Version: version, EntityIDs: ids})
}

func withApp(ctx context.Context, opts *options, fn func(a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if opts.demo {
		cfg.GraphBackend = config.BackendMemory
		cfg.DatabaseURL = ""
		cfg.AI = config.AI{ParallelRequests: 1}
	}

	a, err := app.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

// userError keeps causes out of the terminal output.
func userError(err error) error {
	return errors.New(common.UserMessage(err))
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printProfile(out io.Writer, p risk.Profile) {
	s := p.Score
	fmt.Fprintf(out, "%s: %.2f (%s)\n", s.EntityID, s.OverallScore, p.Level)
	for _, cat := range risk.Categories {
		if v, ok := s.CategoryScores[cat]; ok {
			fmt.Fprintf(out, "  %-15s %.2f\n", cat, v)
		} else {
			fmt.Fprintf(out, "  %-15s n/a\n", cat)
		}
	}
	if s.Degraded {
		fmt.Fprintf(out, "  degraded: no data for %v\n", s.MissingCategories)
	}
	if len(p.Recommendations) > 0 {
		fmt.Fprintln(out, "Recommendations:")
		for i, r := range p.Recommendations {
			fmt.Fprintf(out, "%d. [%s] %s\n", i+1, r.Severity, r.Action)
		}
	}
}
