package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bdobrica/nunu/internal/nunu/persona"
)

func newPersonaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "persona",
		Short: "Persona file tools",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check <file>",
		Short: "Validate a persona file and print the resulting system prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := persona.Load(args[0])
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			cmd.Printf("name: %s\ntriggers: %v\nsubstitutions: %d\n\n", p.Name, p.Triggers, len(p.Substitutions))
			cmd.Println(p.Render())
			return nil
		},
	})
	return cmd
}
