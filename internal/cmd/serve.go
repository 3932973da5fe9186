package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MeKo-Tech/osem/internal/metrics"
	"github.com/MeKo-Tech/osem/internal/server"
	"github.com/MeKo-Tech/osem/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the fixture data API",
	Long: `Serve organizations, viewport-scoped polygons and markers, and reference
layers from the fixture database over HTTP, with Prometheus metrics.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "127.0.0.1:8080", "Listen address (host:port)")
	serveCmd.Flags().String("cache-control", "no-store", "Cache-Control header for data responses")
	serveCmd.Flags().Int("max-features", server.DefaultMaxFeatures, "Cap on features per viewport response")
	serveCmd.Flags().Duration("latency", 0, "Artificial delay per data response (e.g. 300ms)")
	serveCmd.Flags().Bool("demo", false, "Seed the database with the embedded demo data when it is empty")
	serveCmd.Flags().Bool("metrics", true, "Expose Prometheus metrics on /metrics")

	mustBind := func(key string, name string) {
		if err := viper.BindPFlag(key, serveCmd.Flags().Lookup(name)); err != nil {
			panic(fmt.Sprintf("failed to bind flag: %v", err))
		}
	}

	mustBind("serve.addr", "addr")
	mustBind("serve.cache_control", "cache-control")
	mustBind("serve.max_features", "max-features")
	mustBind("serve.latency", "latency")
	mustBind("serve.demo", "demo")
	mustBind("serve.metrics", "metrics")
}

func runServe(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	addr := viper.GetString("serve.addr")
	dbPath := viper.GetString("db")
	demo := viper.GetBool("serve.demo")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openServeStore(ctx, dbPath, demo)
	if err != nil {
		return err
	}
	defer st.Close()

	cfg := server.Config{
		Store:        st,
		Logger:       logger,
		CacheControl: viper.GetString("serve.cache_control"),
		MaxFeatures:  viper.GetInt("serve.max_features"),
		Latency:      viper.GetDuration("serve.latency"),
	}
	if viper.GetBool("serve.metrics") {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		cfg.Metrics = metrics.NewServer(reg)
		cfg.Gatherer = reg
	}

	api, err := server.New(cfg)
	if err != nil {
		return err
	}

	stats, err := st.Stats(ctx)
	if err != nil {
		return err
	}
	logger.Info("fixture API listening",
		"addr", addr,
		"db", dbPath,
		"organizations", stats.Organizations,
		"polygons", stats.Polygons,
		"layers", stats.Layers,
		"latency", cfg.Latency,
	)

	srv := &http.Server{Addr: addr, Handler: api.Handler(), ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

// openServeStore opens the database read-only, or read-write when the demo
// data set may need seeding.
func openServeStore(ctx context.Context, dbPath string, demo bool) (*store.Store, error) {
	if !demo {
		return store.OpenReadOnly(dbPath)
	}

	st, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	stats, err := st.Stats(ctx)
	if err != nil {
		st.Close()
		return nil, err
	}
	if stats.Organizations > 0 || stats.Polygons > 0 {
		return st, nil
	}

	fsys, tasks, err := demoTasks()
	if err != nil {
		st.Close()
		return nil, err
	}
	summary, err := importTasks(ctx, st, fsys, tasks, 0, false)
	if err != nil {
		st.Close()
		return nil, err
	}
	logger.Info("seeded demo data", "db", dbPath, "summary", summary)
	return st, nil
}
