package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/bdobrica/nunu/internal/nunu/app"
	"github.com/bdobrica/nunu/internal/nunu/channel"
)

func newAskCmd() *cobra.Command {
	var sender string
	cmd := &cobra.Command{
		Use:   "ask <question...>",
		Short: "Answer one question and exit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig(cmd)
			cfg.Broadcast = false
			nunu, err := app.New(cfg, channel.NewConsole(cmd.ErrOrStderr(), sender))
			if err != nil {
				return err
			}
			defer nunu.Close()

			reply, err := nunu.Ask(cmd.Context(), sender, strings.Join(args, " "))
			if err != nil {
				return err
			}
			cmd.Println(reply)
			return nil
		},
	}
	cmd.Flags().StringVar(&sender, "sender", envOr("USER", "You"), "who is asking")
	return cmd
}
