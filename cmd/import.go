package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lead-intake/internal/importer"
)

var (
	importCSVPath string
	importTenant  string
	importName    string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import leads from a CSV file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		f, err := os.Open(importCSVPath)
		if err != nil {
			return eris.Wrap(err, "open csv")
		}
		defer f.Close()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		name := importName
		if name == "" {
			name = importCSVPath
		}
		imp := importer.New(env.Service, importer.Options{
			Concurrency:   cfg.Import.Concurrency,
			RatePerSecond: cfg.Import.RatePerSecond,
		})
		sum, err := imp.Import(ctx, f, importer.Target{TenantID: importTenant, SourceName: name})
		if err != nil {
			return eris.Wrap(err, "import csv")
		}

		zap.L().Info("import complete",
			zap.Int("rows", sum.Rows),
			zap.Int("ok", sum.OK),
			zap.Int("rejected", sum.Rejected),
			zap.Int("failed", sum.Failed),
			zap.Int("contacts_created", sum.Contacts),
			zap.String("csv", importCSVPath),
		)
		return printJSON(cmd.OutOrStdout(), sum)
	},
}

func init() {
	importCmd.Flags().StringVar(&importCSVPath, "csv", "", "path to CSV file (required)")
	importCmd.Flags().StringVar(&importTenant, "tenant", "", "tenant ID (required)")
	importCmd.Flags().StringVar(&importName, "name", "", "source name recorded on each lead event (default: file path)")
	_ = importCmd.MarkFlagRequired("csv")
	_ = importCmd.MarkFlagRequired("tenant")
	rootCmd.AddCommand(importCmd)
}
