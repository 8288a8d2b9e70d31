// internal/commands/serve.go
package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mwiater/relay/internal/logging"
	"github.com/mwiater/relay/internal/relay"
	"github.com/mwiater/relay/internal/server"
	"github.com/mwiater/relay/internal/transport/discord"
)

var serveAddr string

// serveCmd implements the 'serve' command, which runs the HTTP API.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long:  `The 'serve' command exposes /v1/chunk, /v1/messages and /v1/history over HTTP. When discord.webhookURL is configured, every reply is also posted to that webhook.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := *GetConfig()
		if serveAddr != "" {
			cfg.Server.Addr = serveAddr
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		rt, err := newRuntime(ctx, &cfg)
		if err != nil {
			return err
		}
		defer rt.Close()

		var forward relay.Sender
		if cfg.Discord.WebhookURL != "" {
			hook, err := discord.New(cfg.Discord.WebhookURL, cfg.Discord.Username, nil)
			if err != nil {
				return err
			}
			if cfg.MaxLength > discord.MaxMessageLength {
				logging.LogEvent("maxLength %d exceeds the Discord limit of %d; long fragments will be rejected", cfg.MaxLength, discord.MaxMessageLength)
			}
			forward = hook
			logging.LogEvent("forwarding replies to the Discord webhook")
		}

		metricsRecorder := recorder
		if !cfg.Metrics {
			metricsRecorder = nil
		}
		return server.New(cfg, rt.responder, metricsRecorder, forward).Run(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config, :8080)")
	rootCmd.AddCommand(serveCmd)
}
