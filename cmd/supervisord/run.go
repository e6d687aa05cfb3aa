package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/fathomquant/supervisor/pkg/api"
	"github.com/fathomquant/supervisor/pkg/config"
	"github.com/fathomquant/supervisor/pkg/handlers"
	"github.com/fathomquant/supervisor/pkg/jobsvc"
	"github.com/fathomquant/supervisor/pkg/log"
	"github.com/fathomquant/supervisor/pkg/metrics"
	"github.com/fathomquant/supervisor/pkg/reconciler"
	"github.com/fathomquant/supervisor/pkg/registry"
	"github.com/fathomquant/supervisor/pkg/scheduler"
	"github.com/fathomquant/supervisor/pkg/storage"
)

var enablePprof bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the supervisor daemon",
	RunE:  runSupervisor,
}

func init() {
	runCmd.Flags().BoolVar(&enablePprof, "pprof", false, "Expose pprof endpoints alongside metrics")
}

func registryWithBuiltins() *registry.Registry {
	reg := registry.New()
	reg.MustRegister("ping", &handlers.Ping{})
	reg.MustRegister("http_probe", &handlers.HTTPProbe{})
	reg.MustRegister("tcp_probe", &handlers.TCPProbe{})
	reg.MustRegister("exec_probe", &handlers.ExecProbe{})
	return reg
}

func runSupervisor(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := log.WithComponent("supervisord")

	if err := os.MkdirAll(cfg.OutputsRoot, 0o755); err != nil {
		return fmt.Errorf("run: create outputs_root: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.StorePath)
	if err != nil {
		return fmt.Errorf("run: open store: %w", err)
	}
	defer store.Close()

	reg := registryWithBuiltins()
	metrics.Bind(store, reg)
	svc := jobsvc.New(store, reg)

	if err := reconciler.ReconcileOnStartup(store); err != nil {
		return fmt.Errorf("run: startup reconciliation: %w", err)
	}

	sup := scheduler.New(store, reg, cfg)
	sup.Start()
	defer sup.Stop()
	metrics.RegisterComponent("scheduler", true, "")

	collector := metrics.NewCollector(store)
	collector.Start()
	defer collector.Stop()

	metrics.SetVersion(Version)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", api.NewRouter(svc))
	if enablePprof {
		mux.HandleFunc("/debug/pprof/", http.DefaultServeMux.ServeHTTP)
	}

	srv := &http.Server{Addr: cfg.APIListen, Handler: mux}
	go func() {
		logger.Info().Str("addr", cfg.APIListen).Msg("control surface listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("control surface server stopped")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	return nil
}
