package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/lead-intake/internal/auth"
	"github.com/sells-group/lead-intake/internal/model"
)

var (
	sourceTenant string
	sourceName   string
)

var sourceCmd = &cobra.Command{
	Use:   "source",
	Short: "Manage webhook sources",
}

var sourceCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a webhook source and print its API key",
	Long:  "Creates a webhook source for a tenant. The API key is printed once and only its hash is stored.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, cfg)
		if err != nil {
			return eris.Wrap(err, "init store")
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		if _, err := st.GetTenant(ctx, sourceTenant); err != nil {
			return eris.Wrapf(err, "load tenant %s", sourceTenant)
		}

		key, err := auth.GenerateKey()
		if err != nil {
			return err
		}
		src := &model.Source{
			TenantID:   sourceTenant,
			Name:       sourceName,
			Kind:       model.SourceWebhook,
			APIKeyHash: auth.HashKey(key),
			Active:     true,
		}
		if err := st.CreateSource(ctx, src); err != nil {
			return eris.Wrap(err, "create source")
		}

		return printJSON(cmd.OutOrStdout(), map[string]string{
			"source_id": src.ID,
			"api_key":   key,
			"endpoint":  fmt.Sprintf("/ingest/%s", src.ID),
		})
	},
}

func setSourceActive(active bool) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, cfg)
		if err != nil {
			return eris.Wrap(err, "init store")
		}
		defer st.Close()

		if err := st.SetSourceActive(ctx, args[0], active); err != nil {
			return eris.Wrapf(err, "update source %s", args[0])
		}
		return nil
	}
}

var sourceDisableCmd = &cobra.Command{
	Use:   "disable <source-id>",
	Short: "Stop accepting leads from a source",
	Args:  cobra.ExactArgs(1),
	RunE:  setSourceActive(false),
}

var sourceEnableCmd = &cobra.Command{
	Use:   "enable <source-id>",
	Short: "Accept leads from a source again",
	Args:  cobra.ExactArgs(1),
	RunE:  setSourceActive(true),
}

func init() {
	sourceCreateCmd.Flags().StringVar(&sourceTenant, "tenant", "", "tenant ID (required)")
	sourceCreateCmd.Flags().StringVar(&sourceName, "name", "", "source name (required)")
	_ = sourceCreateCmd.MarkFlagRequired("tenant")
	_ = sourceCreateCmd.MarkFlagRequired("name")

	sourceCmd.AddCommand(sourceCreateCmd, sourceDisableCmd, sourceEnableCmd)
	rootCmd.AddCommand(sourceCmd)
}
