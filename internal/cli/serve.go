package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/writefactory/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Serve the generation API: POST /api/generate starts a run,
GET /api/generate/{run_id}/stream streams its progress as Server-Sent Events.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadValidConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("port") {
			cfg.Server.Port, _ = cmd.Flags().GetInt("port")
		}
		if cmd.Flags().Changed("host") {
			cfg.Server.Host, _ = cmd.Flags().GetString("host")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		srv := web.NewServer(web.Deps{
			Service: a.svc,
			History: a.history,
			Pool:    a.pool,
			Cache:   a.cache,
			Version: version,
			Log:     a.log,
		})
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		fmt.Fprintf(cmd.ErrOrStderr(), "writefactory API: http://localhost:%d\n", cfg.Server.Port)
		serveErr := srv.ListenAndServe(ctx, addr, cfg.Server.ShutdownTimeoutDuration())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeoutDuration())
		defer cancel()
		if err := a.svc.Shutdown(shutdownCtx); err != nil {
			a.log.Warn().Err(err).Msg("runs still in flight at exit")
		}
		return serveErr
	},
}

func init() {
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "", "Interface to bind")
}
