package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/quatton/qci/pkg/qapi"
	"github.com/quatton/qci/pkg/qapi/config"
	"github.com/quatton/qci/pkg/qapi/routes"
	"github.com/quatton/qci/pkg/qapi/services"
	"github.com/quatton/qci/pkg/qlog"
	"github.com/spf13/cobra"
)

var serveVerbose bool

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"run"},
	Short:   "Start the HTTP API, the dispatcher and the cron scheduler",
	Long: `Start the qci server. On SIGINT or SIGTERM it stops accepting requests,
stops the scheduler and waits up to QCI_SHUTDOWN_TIMEOUT for in-flight
runs before cancelling them.`,
	Run: serve,
}

func init() {
	serveCmd.Flags().BoolVarP(&serveVerbose, "verbose", "v", false, "Debug logging")
	rootCmd.AddCommand(serveCmd)
}

func serve(cmd *cobra.Command, args []string) {
	cfg, err := config.ValidateEnv()
	if err != nil {
		log.Fatalf("❌ %v\n", err)
	}

	cfg.Print(log.Printf)

	logger := qlog.NewDefault()
	if serveVerbose {
		logger = qlog.NewVerbose()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svcs, err := services.NewServices(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("failed to initialize services: %v", err)
	}

	api := qapi.NewApi()
	routes.RegisterAPI(api.Api, svcs)

	addr := fmt.Sprintf(":%s", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: api.Router}

	svcs.Scheduler.Start()

	log.Printf("🚀 qci server starting on %s\n", addr)
	log.Printf("📚 OpenAPI docs: %s/docs\n", cfg.BaseURL)
	log.Printf("📄 OpenAPI spec: %s/openapi.json\n", cfg.BaseURL)
	log.Printf("📈 Metrics: %s/metrics\n", cfg.BaseURL)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
		}
	case <-ctx.Done():
		log.Printf("🛑 Shutting down (timeout %s)\n", cfg.ShutdownTimeout)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	if err := svcs.Close(shutdownCtx); err != nil {
		logger.Warn("services shutdown", "error", err)
	}
	log.Println("👋 Bye")
}
