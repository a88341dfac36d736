package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/lead-intake/internal/ingest"
	"github.com/sells-group/lead-intake/internal/model"
)

var (
	ingestTenant  string
	ingestPhone   string
	ingestFirst   string
	ingestLast    string
	ingestEmail   string
	ingestPayload string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Record a manually entered lead",
	Long:  "Runs one manual signal through the pipeline. The payload is built from flags, or read from --payload (use - for stdin).",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		body, err := manualPayload(cmd.InOrStdin())
		if err != nil {
			return err
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Service.IngestSignal(ctx, ingest.Signal{
			TenantID:   ingestTenant,
			Source:     model.SourceManual,
			SourceName: "cli",
			Body:       body,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), ingestOutput{
			ContactID:      res.ContactID,
			LeadEventID:    res.LeadEventID,
			DealID:         res.DealID,
			ContactCreated: res.ContactCreated,
			DealCreated:    res.DealCreated,
		})
	},
}

type ingestOutput struct {
	ContactID      string  `json:"contact_id"`
	LeadEventID    string  `json:"lead_event_id"`
	DealID         *string `json:"deal_id,omitempty"`
	ContactCreated bool    `json:"contact_created"`
	DealCreated    bool    `json:"deal_created"`
}

func manualPayload(stdin io.Reader) ([]byte, error) {
	switch ingestPayload {
	case "":
	case "-":
		b, err := io.ReadAll(stdin)
		return b, eris.Wrap(err, "read payload from stdin")
	default:
		b, err := os.ReadFile(ingestPayload)
		return b, eris.Wrapf(err, "read payload %s", ingestPayload)
	}

	fields := map[string]string{}
	for k, v := range map[string]string{
		"phone":      ingestPhone,
		"first_name": ingestFirst,
		"last_name":  ingestLast,
		"email":      ingestEmail,
	} {
		if v != "" {
			fields[k] = v
		}
	}
	b, err := json.Marshal(fields)
	return b, eris.Wrap(err, "encode payload")
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

func init() {
	ingestCmd.Flags().StringVar(&ingestTenant, "tenant", "", "tenant ID (required)")
	ingestCmd.Flags().StringVar(&ingestPhone, "phone", "", "phone number")
	ingestCmd.Flags().StringVar(&ingestFirst, "first-name", "", "first name")
	ingestCmd.Flags().StringVar(&ingestLast, "last-name", "", "last name")
	ingestCmd.Flags().StringVar(&ingestEmail, "email", "", "email address")
	ingestCmd.Flags().StringVar(&ingestPayload, "payload", "", "JSON payload file, or - for stdin")
	_ = ingestCmd.MarkFlagRequired("tenant")
	rootCmd.AddCommand(ingestCmd)
}
