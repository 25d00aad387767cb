// Command server runs the A2A protocol runtime core behind a gin HTTP
// transport, wiring the event store, task manager, dispatcher, and their
// extension points (agent card, push notification config) into a single
// process. It is a reference host, not a production deployment: handler
// business logic, authentication, and push delivery are supplied by the
// operator.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"goa.design/clue/log"

	"goa.design/a2a-engine/runtime/agentcard"
	"goa.design/a2a-engine/runtime/dispatcher"
	"goa.design/a2a-engine/runtime/eventstore"
	"goa.design/a2a-engine/runtime/eventstore/boltstore"
	"goa.design/a2a-engine/runtime/eventstore/filestore"
	"goa.design/a2a-engine/runtime/pushconfig"
	"goa.design/a2a-engine/runtime/taskmanager"
	"goa.design/a2a-engine/runtime/telemetry"
	"goa.design/a2a-engine/runtime/wire"
)

var (
	httpAddr     string
	storeBackend string
	storeDir     string
	agentCardPath string
	debugLogs    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "a2a-engine",
	Short: "A2A protocol runtime core: task execution and event-sourcing engine",
}

func init() {
	serveCmd.Flags().StringVar(&httpAddr, "http-addr", ":8080", "HTTP listen address")
	serveCmd.Flags().StringVar(&storeBackend, "store", "memory", "event store backend: memory, file, or bolt")
	serveCmd.Flags().StringVar(&storeDir, "store-dir", "./data", "base directory for the file or bolt store")
	serveCmd.Flags().StringVar(&agentCardPath, "agent-card", "", "path to a YAML agent card for GetExtendedAgentCard")
	serveCmd.Flags().BoolVar(&debugLogs, "debug", false, "enable debug-level logging")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the HTTP server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if debugLogs {
		ctx = log.Context(ctx, log.WithDebug())
	}

	store, err := newStore()
	if err != nil {
		return fmt.Errorf("construct event store: %w", err)
	}

	mgr := taskmanager.New(store, echoHandler{},
		taskmanager.WithLogger(telemetry.NewClueLogger()),
		taskmanager.WithMetrics(telemetry.NewClueMetrics()),
	)

	cards := newCardProvider()
	push := pushconfig.NewMemoryStore()

	d := dispatcher.New(mgr, cards, push,
		dispatcher.WithLogger(telemetry.NewClueLogger()),
		dispatcher.WithTracer(telemetry.NewClueTracer()),
		dispatcher.WithMetrics(telemetry.NewClueMetrics()),
	)

	srv := &http.Server{Addr: httpAddr, Handler: d.Router()}
	log.Print(ctx, log.KV{K: "http-addr", V: httpAddr}, log.KV{K: "store", V: storeBackend})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Print(ctx, log.KV{K: "signal", V: sig.String()})
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newStore() (eventstore.Store, error) {
	switch storeBackend {
	case "memory", "":
		return eventstore.NewMemoryStore(), nil
	case "file":
		return filestore.New(storeDir)
	case "bolt":
		return boltstore.New(storeDir + "/a2a.db")
	default:
		return nil, fmt.Errorf("unknown store backend: %s", storeBackend)
	}
}

// echoHandler is the server binary's default Handler: it acknowledges the
// inbound message with an identical reply and completes immediately. Wire
// a real Handler for actual agent behavior.
type echoHandler struct{}

func (echoHandler) Execute(ctx context.Context, taskCtx *taskmanager.Context, queue *taskmanager.EventQueue) error {
	reply := wire.Message{
		Role:      wire.RoleAgent,
		MessageID: taskCtx.TaskID + "-reply",
		TaskID:    taskCtx.TaskID,
		ContextID: taskCtx.ContextID,
		Parts:     taskCtx.UserMessage.Parts,
	}
	status := wire.TaskStatus{State: wire.TaskStateCompleted, Message: &reply}
	if err := queue.EnqueueStatus(ctx, status, true); err != nil {
		return err
	}
	queue.Complete()
	return nil
}

func (echoHandler) Cancel(ctx context.Context, _ *taskmanager.Context, queue *taskmanager.EventQueue) error {
	return queue.EnqueueStatus(ctx, wire.TaskStatus{State: wire.TaskStateCanceled}, true)
}

func newCardProvider() agentcard.Provider {
	if agentCardPath == "" {
		return agentcard.NewStaticProvider(nil)
	}
	card, err := agentcard.LoadFromFile(agentCardPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "warning: failed to load agent card:", err)
		return agentcard.NewStaticProvider(nil)
	}
	return agentcard.NewStaticProvider(card)
}
