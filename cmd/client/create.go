package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/homegraph/internal/idgen"
	"github.com/steveyegge/homegraph/internal/types"
)

var createEntityType string

var createCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new entity in the local replica",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		now := time.Now()
		entity := &types.Entity{
			ID:         idgen.NewEntityID(createEntityType),
			Version:    clock.Next(),
			EntityType: types.EntityType(createEntityType),
			Name:       args[0],
			SourceType: types.SourceManual,
			UserID:     userID,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := store.PutEntity(cmd.Context(), entity); err != nil {
			return err
		}
		index.OnEntityWritten(entity)
		fmt.Println(accentStyle.Render(entity.ID))
		return nil
	},
}

func init() {
	createCmd.Flags().StringVar(&createEntityType, "type", string(types.EntityDevice), "entity type")
}
