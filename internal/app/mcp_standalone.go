package app

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"appbuilder/internal/config"
	mcpserver "appbuilder/internal/mcp"
)

// MCPServer builds the MCP server over the app's services. Destructive tools
// wait for a decision recorded through the serve process unless autoApprove
// is set.
func (a *App) MCPServer(autoApprove bool) *mcpserver.Server {
	deps := mcpserver.Deps{
		Elements: a.elements,
		Projects: a.projects,
		Theme:    a.theme,
		Backends: a.backends,
		Resolver: a.resolver,
		Plugins:  a.plugins,
		Previews: a,
	}
	if !autoApprove {
		deps.Approvals = a.approvals
	}
	return mcpserver.New(deps)
}

// ServeMCP runs the app as a standalone MCP server on stdin/stdout.
// Edits land in the shared database, where a running serve process picks
// them up.
func ServeMCP(cfg config.Config, autoApprove bool) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := New(cfg)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		a.Shutdown(shutdownCtx)
	}()

	srv := a.MCPServer(autoApprove)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ServeStdio() }()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("mcp server: %w", err)
		}
	case <-ctx.Done():
		log.Println("[MCP] Shutting down...")
	}
	return nil
}
