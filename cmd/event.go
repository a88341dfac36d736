package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var eventTenant string

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Manage lead events",
}

var eventArchiveCmd = &cobra.Command{
	Use:   "archive <lead-event-id>",
	Short: "Archive a lead event",
	Long:  "Marks a lead event archived. Lead events are never deleted or otherwise modified.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, cfg)
		if err != nil {
			return eris.Wrap(err, "init store")
		}
		defer st.Close()

		if err := st.ArchiveLeadEvent(ctx, eventTenant, args[0]); err != nil {
			return eris.Wrapf(err, "archive lead event %s", args[0])
		}
		zap.L().Info("lead event archived", zap.String("tenant_id", eventTenant), zap.String("lead_event_id", args[0]))
		return nil
	},
}

func init() {
	eventArchiveCmd.Flags().StringVar(&eventTenant, "tenant", "", "tenant ID (required)")
	_ = eventArchiveCmd.MarkFlagRequired("tenant")

	eventCmd.AddCommand(eventArchiveCmd)
	rootCmd.AddCommand(eventCmd)
}
