package main

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/lead-intake/internal/model"
	"github.com/sells-group/lead-intake/internal/phone"
)

var (
	tenantName         string
	tenantCountry      string
	tenantAutoDeals    bool
	tenantReopenedOpen bool
	tenantStages       []string
)

var tenantCmd = &cobra.Command{
	Use:   "tenant",
	Short: "Manage tenants",
}

var tenantCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a tenant and its pipeline stages",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if !phone.KnownCountry(tenantCountry) {
			return eris.Errorf("unsupported default country %q", tenantCountry)
		}

		st, err := initStore(ctx, cfg)
		if err != nil {
			return eris.Wrap(err, "init store")
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		t := &model.Tenant{
			Name:                 tenantName,
			DefaultCountry:       strings.ToUpper(tenantCountry),
			AutoCreateDeals:      tenantAutoDeals,
			ReopenedCountsAsOpen: tenantReopenedOpen,
		}
		if err := st.CreateTenant(ctx, t); err != nil {
			return eris.Wrap(err, "create tenant")
		}
		for i, key := range tenantStages {
			stage := model.PipelineStage{TenantID: t.ID, Key: key, Name: key, Position: i + 1}
			if err := st.CreateStage(ctx, stage); err != nil {
				return eris.Wrapf(err, "create stage %s", key)
			}
		}
		return printJSON(cmd.OutOrStdout(), t)
	},
}

func init() {
	tenantCreateCmd.Flags().StringVar(&tenantName, "name", "", "tenant name (required)")
	tenantCreateCmd.Flags().StringVar(&tenantCountry, "country", phone.DefaultCountry, "default phone country (ISO 3166 alpha-2)")
	tenantCreateCmd.Flags().BoolVar(&tenantAutoDeals, "auto-deals", true, "open a deal automatically for every lead")
	tenantCreateCmd.Flags().BoolVar(&tenantReopenedOpen, "reopened-counts-as-open", false, "treat reopened_for_support deals as open")
	tenantCreateCmd.Flags().StringSliceVar(&tenantStages, "stages", nil, "pipeline stage keys in order; the first is used for new deals")
	_ = tenantCreateCmd.MarkFlagRequired("name")

	tenantCmd.AddCommand(tenantCreateCmd)
	rootCmd.AddCommand(tenantCmd)
}
