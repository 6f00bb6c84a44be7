package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/unkn0wn-root/storecache"
	"github.com/unkn0wn-root/storecache/codec"
	"github.com/unkn0wn-root/storecache/config"
	"github.com/unkn0wn-root/storecache/generation"
	promhook "github.com/unkn0wn-root/storecache/hooks/prom"
	zaplog "github.com/unkn0wn-root/storecache/log/zap"
	"github.com/unkn0wn-root/storecache/storage/memory"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run a read/flush scenario against memory storage and print storage call counts",
	RunE:  runDemo,
}

var demoFlags struct {
	provider string
	items    int
	verbose  bool
	wait     time.Duration
}

func init() {
	rootCmd.AddCommand(demoCmd)

	demoCmd.Flags().StringVar(&demoFlags.provider, "provider", "",
		"override STORECACHE_PROVIDER (memory, ristretto, bigcache, redis, sturdyc)")
	demoCmd.Flags().IntVar(&demoFlags.items, "items", 250, "number of seeded entities")
	demoCmd.Flags().BoolVar(&demoFlags.verbose, "verbose", false, "log cache internals at debug level")
	demoCmd.Flags().DurationVar(&demoFlags.wait, "wait", 5*time.Second, "how long to wait for background population")
}

type account struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// populated signals every completed population job.
type populated struct {
	storecache.Hooks
	done chan string
}

func (p populated) PopulationCompleted(key string, items int) {
	p.Hooks.PopulationCompleted(key, items)
	select {
	case p.done <- key:
	default:
	}
}

func runDemo(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if demoFlags.provider != "" {
		cfg.Provider = demoFlags.provider
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "demo:account"
	}

	zl, err := newZap(demoFlags.verbose)
	if err != nil {
		return err
	}
	defer func() { _ = zl.Sync() }()

	p, err := cfg.NewProvider(ctx)
	if err != nil {
		return err
	}
	var gen generation.Store
	if cfg.Generation == config.GenerationRedis {
		rdb := cfg.RedisClient()
		defer rdb.Close()
		gen, err = cfg.NewGeneration(rdb)
	} else {
		gen, err = cfg.NewGeneration(nil)
	}
	if err != nil {
		return err
	}

	seed := make(map[string]account, demoFlags.items)
	for i := 0; i < demoFlags.items; i++ {
		id := fmt.Sprintf("a%05d", i)
		seed[id] = account{ID: id, Name: "account-" + strconv.Itoa(i)}
	}
	store := memory.New(seed, memory.Options[account]{
		IDOf:   func(a account) string { return a.ID },
		WithID: func(a account, id string) account { a.ID = id; return a },
	})

	reg := prometheus.NewRegistry()
	hooks := populated{Hooks: promhook.New(reg, cfg.Namespace), done: make(chan string, 16)}
	opts := storecache.Options[account]{
		Provider:   p,
		Codec:      codec.JSON[account]{},
		IDOf:       func(a account) string { return a.ID },
		Logger:     zaplog.New(zl),
		Hooks:      hooks,
		Generation: gen,
	}
	config.Apply(cfg, &opts)
	cache, err := storecache.New[account](store, opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := cache.Close(context.WithoutCancel(ctx)); err != nil {
			zl.Warn("close failed", zap.Error(err))
		}
	}()

	fmt.Fprintf(out, "provider=%s generation=%s namespace=%s\n", cfg.Provider, cfg.Generation, cfg.Namespace)

	id, err := cache.Create(ctx, account{Name: "demo"})
	if err != nil {
		return errors.Wrap(err, "create")
	}
	for i, step := range []string{"read", "read", "flush+read"} {
		if step == "flush+read" {
			if err := cache.Flush(ctx); err != nil {
				return errors.Wrap(err, "flush")
			}
		}
		if _, err := cache.Read(ctx, id); err != nil {
			return errors.Wrapf(err, "read %d", i)
		}
		fmt.Fprintf(out, "%-11s storage reads=%d\n", step, store.Calls(memory.OpRead))
	}

	if _, err := cache.ReadAll(ctx, 0); err != nil {
		return errors.Wrap(err, "read all")
	}
	select {
	case <-hooks.done:
	case <-time.After(demoFlags.wait):
		fmt.Fprintln(out, "population did not finish in time")
	case <-ctx.Done():
		return ctx.Err()
	}
	page, err := cache.ReadAllPaged(ctx, 0, 50)
	if err != nil {
		return errors.Wrap(err, "read page")
	}
	fmt.Fprintf(out, "page(0,50) returned=%d storage readAll=%d readAllPaged=%d\n",
		page.Returned, store.Calls(memory.OpReadAll), store.Calls(memory.OpReadAllPaged))

	return printCounters(out, reg)
}

func newZap(verbose bool) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	zc.Encoding = "console"
	zc.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	if verbose {
		zc.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return zc.Build()
}

func printCounters(w io.Writer, reg *prometheus.Registry) error {
	families, err := reg.Gather()
	if err != nil {
		return errors.Wrap(err, "gather metrics")
	}
	sort.Slice(families, func(i, j int) bool { return families[i].GetName() < families[j].GetName() })
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			label := ""
			for _, lp := range m.GetLabel() {
				if lp.GetName() != "cache" {
					label = "{" + lp.GetName() + "=" + lp.GetValue() + "}"
				}
			}
			fmt.Fprintf(w, "%s%s %g\n", mf.GetName(), label, m.GetCounter().GetValue())
		}
	}
	return nil
}
