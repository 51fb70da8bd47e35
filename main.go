package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"appbuilder/internal/app"
	"appbuilder/internal/config"
)

var rootCmd = &cobra.Command{
	Use:           "appbuilder",
	Short:         "Declarative UI runtime: pages of elements, data bindings and actions",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve page sync channels, rendered previews and the authoring API over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return serve(cfg)
	},
}

var autoApprove bool

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the MCP authoring server on stdin/stdout",
	Long: `
		Runs the MCP server for AI agents. Destructive tools wait until the
		call is approved through a running serve process, unless
		--auto-approve is given.
	`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		// stdout carries the protocol
		log.SetOutput(os.Stderr)
		return app.ServeMCP(cfg, autoApprove)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)

	f := rootCmd.PersistentFlags()
	f.String("data-dir", "", "Directory holding the database (default ~/.local/share/appbuilder)")
	f.String("db", "", "SQLite database path (default <data-dir>/appbuilder.db)")
	f.String("addr", "", "HTTP listen address")
	f.String("public-origin", "", "Origin stamped on builder messages")
	f.String("allowed-origins", "", "Comma-separated origins previews accept messages from")
	f.String("secrets", "", "Secret store: env, memory or keychain")
	f.Bool("fixtures", false, "Serve the demo fixture data set for managed bindings")
	f.String("theme-file", "", "JSON file of theme variables to watch")
	f.Duration("script-timeout", 0, "Time budget for guards and custom functions")
	f.Duration("poll-interval", 0, "Interval for detecting edits made by other processes")

	mcpCmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "Run destructive tools without asking")
}

// loadConfig layers defaults, APPBUILDER_* variables and explicitly set
// flags, in that order.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, err
	}
	f := cmd.Flags()
	str := func(name string, dst *string) {
		if f.Changed(name) {
			*dst, _ = f.GetString(name)
		}
	}
	str("data-dir", &cfg.DataDir)
	str("db", &cfg.DBPath)
	str("addr", &cfg.Addr)
	str("public-origin", &cfg.PublicOrigin)
	str("secrets", &cfg.Secrets)
	str("theme-file", &cfg.ThemeFile)
	if f.Changed("allowed-origins") {
		v, _ := f.GetString("allowed-origins")
		cfg.AllowedOrigins = config.SplitList(v)
	}
	if f.Changed("fixtures") {
		cfg.Fixtures, _ = f.GetBool("fixtures")
	}
	if f.Changed("script-timeout") {
		cfg.ScriptTimeout, _ = f.GetDuration("script-timeout")
	}
	if f.Changed("poll-interval") {
		cfg.PollInterval, _ = f.GetDuration("poll-interval")
	}
	if err := cfg.Resolve(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func serve(cfg config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		a.Shutdown(context.Background())
		return err
	}

	srv := app.NewServer(a)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(cfg.Addr) }()

	select {
	case err = <-errCh:
	case <-ctx.Done():
		log.Println("server: shutting down")
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		log.Printf("server: shutdown: %v", serr)
	}
	a.Shutdown(shutdownCtx)
	return err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
