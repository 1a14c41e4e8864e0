package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/goliatone/go-facetcache/entity"
	"github.com/goliatone/go-facetcache/logger"
	"github.com/goliatone/go-facetcache/pkg/di"
	"github.com/goliatone/go-facetcache/uow"
)

// Account is the entity the demo writes.
type Account struct {
	ID      int64  `msgpack:"id"`
	Email   string `msgpack:"email,omitempty"`
	Plan    string `msgpack:"plan,omitempty"`
	Balance int64  `msgpack:"balance,omitempty"`
}

var accountSchema = entity.SchemaFor[Account]("id").WithUnique("email", "email")

const accountDDL = `CREATE TABLE IF NOT EXISTS account (id BIGINT PRIMARY KEY, email VARCHAR(255) UNIQUE, plan VARCHAR(64), balance BIGINT)`

type demoOptions struct {
	workers  int
	accounts int
	timeout  time.Duration
}

func newDemoCommand(stdout io.Writer) *cobra.Command {
	opts := demoOptions{}

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run nested units of work against the configured database",
		Long: `
Creates an account table, then runs concurrent workers. Each worker opens a
root unit of work, creates an account in a child unit, reads it back through
the parent, updates it and commits. The summary reports database reads and
process cache hits.
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.workers < 1 || opts.accounts < 1 {
				return fmt.Errorf("workers and accounts must be positive")
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cfg.Metrics.Enabled = true

			reg := prometheus.NewRegistry()
			log := logger.NewLeveledLogger(cmd.ErrOrStderr(), cfg.LogLevel(), cfg.Log.Prefix)
			c, err := di.NewContainer(cfg, di.WithLogger(log), di.WithRegisterer(reg))
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			defer c.Close(context.Background())

			if err := c.DB().Exec(ctx, accountDDL); err != nil {
				return err
			}

			summary, err := runDemo(ctx, c, opts)
			if err != nil {
				return err
			}
			summary.print(stdout)

			families, err := reg.Gather()
			if err != nil {
				return err
			}
			for _, f := range families {
				fmt.Fprintf(stdout, "metric %s: %d series\n", f.GetName(), len(f.GetMetric()))
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.IntVarP(&opts.workers, "workers", "w", 4, "Number of concurrent workers.")
	flags.IntVarP(&opts.accounts, "accounts", "n", 25, "Accounts created per worker.")
	flags.DurationVar(&opts.timeout, "timeout", time.Minute, "Maximum run time.")
	return cmd
}

type demoSummary struct {
	committed int
	stats     uow.Stats
	cached    int
	open      int
}

func (s demoSummary) print(w io.Writer) {
	fmt.Fprintf(w, "committed units:  %d\n", s.committed)
	fmt.Fprintf(w, "reads:            %d\n", s.stats.Reads)
	fmt.Fprintf(w, "local hits:       %d\n", s.stats.LocalHits)
	fmt.Fprintf(w, "parent hits:      %d\n", s.stats.ParentHits)
	fmt.Fprintf(w, "process hits:     %d\n", s.stats.ProcessHits)
	fmt.Fprintf(w, "database reads:   %d\n", s.stats.DatabaseReads)
	fmt.Fprintf(w, "cache entries:    %d\n", s.cached)
	fmt.Fprintf(w, "open units:       %d\n", s.open)
}

func runDemo(ctx context.Context, c *di.Container, opts demoOptions) (demoSummary, error) {
	accounts := di.NewRepository[Account](c, accountSchema)
	results := make([]uow.Stats, opts.workers)

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < opts.workers; w++ {
		worker := w
		g.Go(func() error {
			for i := 0; i < opts.accounts; i++ {
				id := int64(worker*opts.accounts + i + 1)
				stats, err := demoAccount(gctx, c.Engine(), accounts, id)
				if err != nil {
					return fmt.Errorf("worker %d account %d: %w", worker, id, err)
				}
				results[worker].Reads += stats.Reads
				results[worker].Writes += stats.Writes
				results[worker].LocalHits += stats.LocalHits
				results[worker].ParentHits += stats.ParentHits
				results[worker].ProcessHits += stats.ProcessHits
				results[worker].DatabaseReads += stats.DatabaseReads
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return demoSummary{}, err
	}

	summary := demoSummary{
		committed: opts.workers * opts.accounts,
		cached:    c.Cache().Size(),
		open:      c.Engine().OpenUnits(),
	}
	for _, s := range results {
		summary.stats.Reads += s.Reads
		summary.stats.Writes += s.Writes
		summary.stats.LocalHits += s.LocalHits
		summary.stats.ParentHits += s.ParentHits
		summary.stats.ProcessHits += s.ProcessHits
		summary.stats.DatabaseReads += s.DatabaseReads
	}
	return summary, nil
}

func demoAccount(ctx context.Context, engine *uow.Engine, accounts *uow.Repository[Account], id int64) (uow.Stats, error) {
	root := engine.Begin()
	defer root.Close()

	child, err := root.Begin()
	if err != nil {
		return uow.Stats{}, err
	}
	email := fmt.Sprintf("account-%d@example.com", id)
	if err := accounts.Save(ctx, child, &Account{ID: id, Email: email, Plan: "trial"}); err != nil {
		return uow.Stats{}, err
	}
	if res, err := child.Commit(ctx); err != nil || !res.Committed {
		return uow.Stats{}, commitError(res, err)
	}

	a, err := accounts.Get(ctx, root, entity.Where("email", email))
	if err != nil {
		return uow.Stats{}, err
	}
	a.Plan = "standard"
	a.Balance = id * 100
	if err := accounts.Save(ctx, root, a); err != nil {
		return uow.Stats{}, err
	}

	res, err := root.Commit(ctx)
	if err != nil || !res.Committed {
		return uow.Stats{}, commitError(res, err)
	}
	return root.Stats(), nil
}

func commitError(res uow.Result, err error) error {
	if err != nil {
		return err
	}
	return fmt.Errorf("unit of work not committed: %w", res.Reason)
}
