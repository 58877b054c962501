package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/loomlabs/loom/internal/architect"
	"github.com/loomlabs/loom/internal/config"
	"github.com/loomlabs/loom/internal/dispatcher"
	"github.com/loomlabs/loom/internal/event"
	"github.com/loomlabs/loom/internal/permission"
	"github.com/loomlabs/loom/internal/persistence"
	"github.com/loomlabs/loom/internal/persistence/sqlstore"
	"github.com/loomlabs/loom/internal/session"
	"github.com/loomlabs/loom/internal/telemetry"
	"github.com/loomlabs/loom/internal/tool"
	"github.com/loomlabs/loom/internal/transport"
	"github.com/loomlabs/loom/pkg/types"
)

var (
	runModel      string
	runSession    string
	runArchitect  bool
	runAutoApprove bool
	runDir        string
)

var runCmd = &cobra.Command{
	Use:   "run [message...]",
	Short: "Send one message to a loom session",
	Long: `Send a single message to a loom session and print the reply.

Examples:
  loom run "Fix the bug in main.go"
  loom run --session sess_abc123 "continue"
  loom run --architect "Add a retry wrapper around the HTTP client"`,
	RunE: runOnce,
}

func init() {
	runCmd.Flags().StringVarP(&runModel, "model", "m", "", "Model override (provider:model_id)")
	runCmd.Flags().StringVarP(&runSession, "session", "s", "", "Session ID to continue; a new one is created if omitted")
	runCmd.Flags().BoolVar(&runArchitect, "architect", false, "Route through the two-phase ArchitectPipeline instead of the chat loop")
	runCmd.Flags().BoolVar(&runAutoApprove, "auto-approve", true, "Auto-approve tool permission prompts for this session")
	runCmd.Flags().StringVar(&runDir, "directory", "", "Working directory")
}

func runOnce(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(runDir)
	if err != nil {
		return err
	}

	message := strings.Join(args, " ")
	if message == "" {
		return fmt.Errorf("message required. Usage: loom run \"your message\"")
	}

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return err
	}

	appConfig, err := config.Load(workDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	model := appConfig.Model.Default
	if m := GetGlobalModel(); m != "" {
		model = m
	}
	if runModel != "" {
		model = runModel
	}

	store, err := sqlstore.Open(config.StoragePath(paths))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	bus := event.New()
	defer bus.Close()
	tracer := telemetry.New(bus)
	_ = telemetry.NewAggregator(bus, prometheus.NewRegistry())

	tools := tool.DefaultRegistry(workDir)
	perms := permission.NewManager(appConfig.Permissions.AutoApprove)
	disp := dispatcher.New(tools, tracer)
	llmTransport := transport.NewEinoTransport(transport.ProviderConfig{}, transport.ProviderConfig{})

	ctx := context.Background()
	sess, err := resolveSession(ctx, store, runSession, model, workDir)
	if err != nil {
		return err
	}
	if runAutoApprove {
		sess.AutoApprove = true
	}

	var text string
	if runArchitect {
		pipeline := architect.New(architect.Config{
			Store:       store,
			Bus:         bus,
			Tracer:      tracer,
			Dispatcher:  disp,
			Permissions: perms,
			Transport:   llmTransport,
			Tools:       tools,
			PlanModel:   orDefault(appConfig.Model.Architect, model),
			EditorModel: orDefault(appConfig.Model.Editor, appConfig.Model.Weak),
		})
		text, err = pipeline.Run(ctx, sess, message)
	} else {
		manager := session.NewManager(session.Config{
			Store:       store,
			Bus:         bus,
			Tracer:      tracer,
			Dispatcher:  disp,
			Permissions: perms,
			Transport:   llmTransport,
			Tools:       tools,
		})
		var eng *session.Engine
		eng, err = manager.Start(ctx, sess)
		if err != nil {
			return fmt.Errorf("start session: %w", err)
		}
		defer eng.Stop()
		text, err = eng.SendMessage(ctx, message)
	}
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	fmt.Printf("Session: %s\n\n", sess.ID)
	fmt.Println(text)
	return nil
}

func resolveSession(ctx context.Context, store persistence.Store, id, model, workDir string) (*types.Session, error) {
	if id != "" {
		return store.GetSession(ctx, id)
	}
	return store.CreateSession(ctx, persistence.SessionAttrs{
		Model:       model,
		ProjectPath: workDir,
		Title:       "cli session",
	})
}

func orDefault(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}
