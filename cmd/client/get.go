package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var getCmd = &cobra.Command{
	Use:   "get <entity-id>",
	Short: "Print the latest version of an entity as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entity, err := store.GetLatest(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(entity, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}
