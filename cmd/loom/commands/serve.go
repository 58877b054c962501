package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/loomlabs/loom/internal/architect"
	"github.com/loomlabs/loom/internal/config"
	"github.com/loomlabs/loom/internal/decisiongraph"
	"github.com/loomlabs/loom/internal/dispatcher"
	"github.com/loomlabs/loom/internal/event"
	"github.com/loomlabs/loom/internal/logging"
	"github.com/loomlabs/loom/internal/permission"
	"github.com/loomlabs/loom/internal/persistence/sqlstore"
	"github.com/loomlabs/loom/internal/server"
	"github.com/loomlabs/loom/internal/session"
	"github.com/loomlabs/loom/internal/telemetry"
	"github.com/loomlabs/loom/internal/tool"
	"github.com/loomlabs/loom/internal/transport"
)

var (
	servePort     int
	serveHostname string
	serveDir      string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the loom HTTP API server",
	Long: `Start loom as a server exposing session management, the
architect pipeline, and the decision graph over an HTTP API, with
Server-Sent Events for live updates and a /metrics endpoint.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8080, "Port to listen on")
	serveCmd.Flags().StringVar(&serveHostname, "hostname", "127.0.0.1", "Hostname to listen on")
	serveCmd.Flags().StringVar(&serveDir, "directory", "", "Working directory")
}

func runServe(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(serveDir)
	if err != nil {
		return err
	}

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return err
	}

	appConfig, err := config.Load(workDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if model := GetGlobalModel(); model != "" {
		appConfig.Model.Default = model
	}

	store, err := sqlstore.Open(config.StoragePath(paths))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	bus := event.New()
	defer bus.Close()

	tracer := telemetry.New(bus)
	aggregator := telemetry.NewAggregator(bus, prometheus.DefaultRegisterer)
	defer aggregator.Close()

	tools := tool.DefaultRegistry(workDir)
	perms := permission.NewManager(appConfig.Permissions.AutoApprove)
	disp := dispatcher.New(tools, tracer)
	graph := decisiongraph.New(store)

	llmTransport := transport.NewEinoTransport(
		transport.ProviderConfig{},
		transport.ProviderConfig{},
	)

	sessionCfg := session.Config{
		Store:       store,
		Bus:         bus,
		Tracer:      tracer,
		Dispatcher:  disp,
		Permissions: perms,
		Transport:   llmTransport,
		Tools:       tools,
	}
	manager := session.NewManager(sessionCfg)

	pipeline := architect.New(architect.Config{
		Store:       store,
		Bus:         bus,
		Tracer:      tracer,
		Dispatcher:  disp,
		Permissions: perms,
		Transport:   llmTransport,
		Tools:       tools,
		PlanModel:   appConfig.Model.Architect,
		EditorModel: appConfig.Model.Editor,
	})

	httpCfg := server.DefaultHTTPConfig()
	httpCfg.Port = servePort
	httpCfg.Directory = workDir

	srv := server.New(httpCfg, server.Deps{
		Store:       store,
		Bus:         bus,
		Manager:     manager,
		Architect:   pipeline,
		Graph:       graph,
		Permissions: perms,
		Aggregator:  aggregator,
		AppConfig:   appConfig,
	})

	go func() {
		logging.Info().
			Str("url", fmt.Sprintf("http://%s:%d", serveHostname, servePort)).
			Msg("loom server listening")
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logging.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("server shutdown error")
	}
	return nil
}
