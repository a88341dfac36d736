package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/lead-intake/internal/model"
)

var contactTenant string

var contactCmd = &cobra.Command{
	Use:   "contact",
	Short: "Inspect and maintain contacts",
}

var contactAddPhoneCmd = &cobra.Command{
	Use:   "add-phone <contact-id> <phone>",
	Short: "Attach another phone number to a contact",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		id, err := identityFor(ctx, env.Store, contactTenant, args[1])
		if err != nil {
			return err
		}
		p, err := env.Contacts.AddPhone(ctx, id, args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), p)
	},
}

var contactCorrectPhoneCmd = &cobra.Command{
	Use:   "correct-phone <phone-id> <phone>",
	Short: "Replace a mistyped phone number",
	Long:  "Deactivates the phone row and adds the corrected number to the same contact. The old row is kept for history.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		id, err := identityFor(ctx, env.Store, contactTenant, args[1])
		if err != nil {
			return err
		}
		p, err := env.Contacts.CorrectPhone(ctx, id, args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), p)
	},
}

type contactView struct {
	Contact *model.Contact       `json:"contact"`
	Phones  []model.ContactPhone `json:"phones"`
	Events  []model.LeadEvent    `json:"lead_events"`
	Deals   []model.Deal         `json:"deals"`
}

var contactShowCmd = &cobra.Command{
	Use:   "show <contact-id>",
	Short: "Print a contact with its phones, lead events and deals",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, cfg)
		if err != nil {
			return eris.Wrap(err, "init store")
		}
		defer st.Close()

		var v contactView
		if v.Contact, err = st.GetContact(ctx, contactTenant, args[0]); err != nil {
			return eris.Wrapf(err, "load contact %s", args[0])
		}
		if v.Phones, err = st.ListPhones(ctx, contactTenant, args[0]); err != nil {
			return err
		}
		if v.Events, err = st.ListLeadEvents(ctx, contactTenant, args[0]); err != nil {
			return err
		}
		if v.Deals, err = st.ListDeals(ctx, contactTenant, args[0]); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), v)
	},
}

func init() {
	contactCmd.PersistentFlags().StringVar(&contactTenant, "tenant", "", "tenant ID (required)")
	_ = contactCmd.MarkPersistentFlagRequired("tenant")

	contactCmd.AddCommand(contactAddPhoneCmd, contactCorrectPhoneCmd, contactShowCmd)
	rootCmd.AddCommand(contactCmd)
}
