// Command hub is the agenthub process entrypoint: it loads bootstrap
// configuration, wires the store/event-bus/RPC-registry collaborators, and
// runs a single SessionLoop for the session id in AGENTHUB_SESSION_ID.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/agenthub/hub/internal/config"
	"github.com/agenthub/hub/internal/eventbus"
	"github.com/agenthub/hub/internal/logging"
	"github.com/agenthub/hub/internal/rpc"
	"github.com/agenthub/hub/internal/sessionloop"
	"github.com/agenthub/hub/internal/store"
	"github.com/agenthub/hub/internal/transport"
	"github.com/agenthub/hub/internal/transport/appserver"
	"github.com/agenthub/hub/internal/transport/mcpclient"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "hub:", err)
		os.Exit(1)
	}
}

func run() error {
	boot, err := config.LoadBootstrap()
	if err != nil {
		return err
	}

	log, err := logging.NewLogger(logging.Config{Level: boot.LogLevel, Format: boot.LogFormat})
	if err != nil {
		return err
	}
	logging.SetDefault(log)
	defer log.Sync()

	st, err := store.OpenSQLite(boot.SQLiteDSN)
	if err != nil {
		return fmt.Errorf("hub: open store: %w", err)
	}
	defer st.Close()

	var bus eventbus.EventBus
	if boot.NATSURL != "" {
		nb, err := eventbus.DialNATS(boot.NATSURL, log)
		if err != nil {
			return fmt.Errorf("hub: dial nats: %w", err)
		}
		defer nb.Close()
		bus = nb
	} else {
		bus = eventbus.NewMemoryBus()
	}

	registry := newProcessRegistry()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	deps := sessionloop.Deps{
		Store:       st,
		Bus:         bus,
		Registry:    registry,
		Log:         log,
		AgentHome:   boot.AgentHome,
		ClientInfo:  transport.ClientInfo{Name: "agenthub", Version: "0.1.0"},
		AppServerTr: func() (transport.AgentTransport, error) { return appserver.New(boot.AgentBinary, log), nil },
		MCPTr:       func() (transport.AgentTransport, error) { return mcpclient.New(boot.AgentBinary, log), nil },
	}

	sessionID := envOr("AGENTHUB_SESSION_ID", "default")
	namespace := envOr("AGENTHUB_NAMESPACE", "local")

	loop := sessionloop.New(sessionID, namespace, deps, sessionloop.ModeLocal)
	return loop.Run(ctx)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// processRegistry is a minimal in-process rpc.Registry for the single-binary
// entrypoint; a networked deployment supplies its own registry backed by the
// HTTP/WebSocket server (out of scope here, per spec.md §1).
type processRegistry struct {
	handlers map[string]rpc.Handler
}

func newProcessRegistry() *processRegistry {
	return &processRegistry{handlers: make(map[string]rpc.Handler)}
}

func (r *processRegistry) Register(key string, h rpc.Handler) { r.handlers[key] = h }
func (r *processRegistry) Replace(key string, h rpc.Handler)  { r.handlers[key] = h }
