package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bdobrica/nunu/internal/nunu/app"
	"github.com/bdobrica/nunu/internal/nunu/channel"
)

func newConsoleCmd() *cobra.Command {
	var sender string
	cmd := &cobra.Command{
		Use:   "console",
		Short: "Chat with Nunu on stdin/stdout",
		Long: `Reads one message per line from stdin. A line may be "kind|sender|text";
anything else is "say" from --sender. Lines starting with "/nunu " are ask
actions, "/transcript [n]" prints recent memory, "/reload" re-reads the
persona and "/reset" clears the conversation.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg := loadConfig(cmd)
			console := channel.NewConsole(cmd.OutOrStdout(), sender)
			console.SelfName = cfg.SelfName

			nunu, err := app.New(cfg, console)
			if err != nil {
				return err
			}
			defer nunu.Close()
			console.Loopback = nunu.HandleInbound
			if err := nunu.Start(ctx); err != nil {
				return err
			}

			err = console.Listen(ctx, cmd.InOrStdin(), func(ctx context.Context, msg channel.Inbound) {
				if !consoleCommand(ctx, cmd, nunu, msg) {
					nunu.HandleInbound(ctx, msg)
				}
			})
			nunu.Wait()
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&sender, "sender", envOr("USER", "You"), "sender name for plain lines")
	return cmd
}

// consoleCommand handles the local slash commands. It reports whether msg
// was one of them.
func consoleCommand(ctx context.Context, cmd *cobra.Command, nunu *app.App, msg channel.Inbound) bool {
	text := strings.TrimSpace(msg.Text)
	switch {
	case strings.HasPrefix(text, "/nunu "):
		if _, err := nunu.Ask(ctx, msg.Sender, strings.TrimPrefix(text, "/nunu ")); err != nil {
			cmd.PrintErrln("ask:", err)
		}
	case text == "/transcript" || strings.HasPrefix(text, "/transcript "):
		n := 10
		if arg := strings.TrimSpace(strings.TrimPrefix(text, "/transcript")); arg != "" {
			if v, err := strconv.Atoi(arg); err == nil && v > 0 {
				n = v
			}
		}
		for _, it := range nunu.Transcript(n) {
			cmd.Printf("  %s [%d] %s: %s\n", it.Timestamp.Format("15:04:05"), it.ID, it.Sender, it.Text)
		}
	case text == "/reload":
		p, err := nunu.ReloadPersona()
		if err != nil {
			cmd.PrintErrln("persona:", err)
		}
		cmd.Println("persona:", p.Name)
	case text == "/reset":
		nunu.ResetConversation()
		cmd.Println("conversation cleared")
	default:
		return false
	}
	return true
}

func envOr(name, def string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return def
}
