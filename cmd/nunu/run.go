package main

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bdobrica/nunu/common/environment"
	"github.com/bdobrica/nunu/internal/nunu/app"
	"github.com/bdobrica/nunu/internal/nunu/matrix"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to Matrix and answer in the bound rooms",
		Long: `Connects to the Matrix homeserver given by MATRIX_HOMESERVER, MATRIX_USER_ID
and MATRIX_ACCESS_TOKEN. MATRIX_ROOMS binds channel kinds to rooms, e.g.
"say=!abc:example.org,party=!def:example.org". MATRIX_LOG_ROOM, if set,
receives local prints as notices.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mcfg, err := loadMatrixConfig()
			if err != nil {
				return err
			}
			client, err := matrix.New(mcfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			nunu, err := app.New(loadConfig(cmd), client)
			if err != nil {
				return fmt.Errorf("initialise nunu: %w", err)
			}
			defer nunu.Close()

			if err := nunu.Start(ctx); err != nil {
				return err
			}
			if err := client.Start(ctx, nunu.HandleInbound); err != nil {
				return fmt.Errorf("start matrix: %w", err)
			}
			defer client.Stop()

			slog.Info("listening on Matrix", "user_id", client.UserID(), "rooms", len(mcfg.Rooms))
			<-ctx.Done()
			slog.Info("shutting down")
			return nil
		},
	}
}

func loadMatrixConfig() (matrix.Config, error) {
	var cfg matrix.Config
	for _, v := range []struct {
		name string
		dst  *string
	}{
		{"MATRIX_HOMESERVER", &cfg.Homeserver},
		{"MATRIX_USER_ID", &cfg.UserID},
		{"MATRIX_ACCESS_TOKEN", &cfg.AccessToken},
	} {
		s, err := environment.RequiredString(v.name)
		if err != nil {
			return cfg, err
		}
		*v.dst = s
	}
	rooms, err := matrix.ParseRooms(environment.MapOr("MATRIX_ROOMS", nil))
	if err != nil {
		return cfg, fmt.Errorf("MATRIX_ROOMS: %w", err)
	}
	cfg.Rooms = rooms
	cfg.LogRoom = environment.StringOr("MATRIX_LOG_ROOM", "")
	return cfg, nil
}
