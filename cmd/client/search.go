package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the local replica's entities",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		results, err := store.Search(cmd.Context(), args[0], nil, 20)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Println(mutedStyle.Render("no matches"))
			return nil
		}
		for _, r := range results {
			fmt.Printf("%s  %s\n", accentStyle.Render(r.Entity.ID), r.Entity.Name)
		}
		return nil
	},
}
