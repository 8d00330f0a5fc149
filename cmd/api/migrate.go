package main

import (
	"github.com/spf13/cobra"

	"github.com/punchamoorthee/reportledger/internal/store"
)

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the ledger schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			st, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			// sqlite applies its schema on open; memory has none
			if pg, ok := st.(*store.Postgres); ok {
				if err := pg.Migrate(cmd.Context()); err != nil {
					return err
				}
			}
			log.Info().Str("store", cfg.StoreDriver).Msg("schema up to date")
			return nil
		},
	}
}
