package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"google.golang.org/grpc"

	"github.com/rl1809/seckill/internal/adapter/handler"
	"github.com/rl1809/seckill/internal/config"
	"github.com/rl1809/seckill/internal/core/service"
	"github.com/rl1809/seckill/internal/telemetry"
)

const shutdownTimeout = 5 * time.Second

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:           "seckill",
		Short:         "Flash-sale admission and order materialization",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (SECKILL_* env vars override it)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(warmupCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var embedWorkers, warmOpen bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC purchase API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cfg.CounterStore == config.CounterStoreMemory && !embedWorkers {
				return fmt.Errorf("serve --workers=false: %w", errSharedStoreRequired)
			}
			// The in-process counter store starts empty.
			if cfg.CounterStore == config.CounterStoreMemory {
				warmOpen = true
			}
			return serve(cfg, embedWorkers, warmOpen)
		},
	}
	cmd.Flags().BoolVar(&embedWorkers, "workers", true, "run the materializer pool in this process")
	cmd.Flags().BoolVar(&warmOpen, "warmup", false,
		"load the stock of every open activity before listening (always on with counter_store=memory)")
	return cmd
}

func serve(cfg *config.Config, embedWorkers, warmOpen bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName)
	if err != nil {
		return err
	}
	defer shutdownTracer(context.Background())

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	if warmOpen {
		if err := a.warmOpen(ctx, time.Now()); err != nil {
			return err
		}
	}

	svc := service.NewSeckillService(a.deps(), service.Config{
		Mode:           service.Mode(cfg.Seckill.Mode),
		QuotaTTL:       cfg.Seckill.QuotaTTL,
		PaymentTimeout: cfg.Seckill.PaymentTimeout,
	})

	// Workers outlive the listeners so intents admitted during shutdown still drain.
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	var wg sync.WaitGroup
	if embedWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.materializer().RunPool(workerCtx, cfg.Workers.Count)
		}()
	}

	grpcServer := grpc.NewServer()
	handler.RegisterSeckillServer(grpcServer, handler.NewGRPCHandler(svc))

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.GRPCAddr, err)
	}
	go func() {
		log.Printf("gRPC server listening on %s", cfg.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			log.Printf("gRPC server error: %v", err)
		}
	}()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery(), otelgin.Middleware(cfg.Telemetry.ServiceName))
	handler.NewHTTPHandler(svc).Register(router)
	router.GET("/metrics", gin.WrapH(a.metrics.Handler()))

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}
	go func() {
		log.Printf("HTTP server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Printf("HTTP server error: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Println("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}
	log.Println("HTTP server stopped")

	grpcServer.GracefulStop()
	log.Println("gRPC server stopped")

	stopWorkers()
	wg.Wait()
	return nil
}

func workerCmd() *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run only the order materializer pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cfg.CounterStore != config.CounterStoreRedis {
				return fmt.Errorf("worker: %w", errSharedStoreRequired)
			}
			if count > 0 {
				cfg.Workers.Count = count
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			shutdownTracer, err := telemetry.InitTracer(ctx, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName)
			if err != nil {
				return err
			}
			defer shutdownTracer(context.Background())

			a, err := openApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			a.materializer().RunPool(ctx, cfg.Workers.Count)
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 0, "number of workers (overrides workers.count)")
	return cmd
}

func warmupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "warmup <activity-id>",
		Short: "Load an activity's stock from the catalog into the counter store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWarmer(args[0], func(ctx context.Context, w *service.StockWarmer, activityID int64) error {
				n, err := w.Warmup(ctx, activityID)
				if err != nil {
					return err
				}
				log.Printf("warmed %d products for activity %d", n, activityID)
				return nil
			})
		},
	}
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <activity-id>",
		Short: "Write the counter store's stock levels back to the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWarmer(args[0], func(ctx context.Context, w *service.StockWarmer, activityID int64) error {
				n, err := w.Reconcile(ctx, activityID)
				if err != nil {
					return err
				}
				log.Printf("reconciled %d products for activity %d", n, activityID)
				return nil
			})
		},
	}
}

func withWarmer(arg string, fn func(context.Context, *service.StockWarmer, int64) error) error {
	activityID, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || activityID <= 0 {
		return fmt.Errorf("invalid activity id %q", arg)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.CounterStore != config.CounterStoreRedis {
		return errSharedStoreRequired
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	return fn(ctx, service.NewStockWarmer(a.repo, a.counters), activityID)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the catalog, order and operation-log tables if missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			// The counter store is not needed here.
			cfg.CounterStore = config.CounterStoreMemory

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.repo.EnsureSchema(ctx); err != nil {
				return err
			}
			log.Printf("%s schema is up to date", cfg.Database.Driver)
			return nil
		},
	}
}
