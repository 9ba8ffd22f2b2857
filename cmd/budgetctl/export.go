package main

import (
	"fmt"
	"os"
	"time"

	"bitbucket.org/mmdatafocus/budget_backend/config"
	"github.com/spf13/cobra"
)

var (
	flagYear   int
	flagOut    string
	flagUpload bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the yearly budget/forecast workbook to a file or the export bucket",
	RunE:  runExport,
}

func init() {
	exportCmd.Flags().IntVar(&flagYear, "year", time.Now().Year(), "Planning year")
	exportCmd.Flags().StringVarP(&flagOut, "out", "o", "", "Output file (default budget_<year>.xlsx)")
	exportCmd.Flags().BoolVar(&flagUpload, "upload", false, "Upload to EXPORT_BUCKET instead of writing a file")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, _ []string) error {
	actor, err := currentActor()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	planner, closeDB, err := openPlanner(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	if flagUpload {
		bucket := config.ExportBucket()
		if bucket == "" {
			return fmt.Errorf("EXPORT_BUCKET is not set")
		}
		upload, err := planner.ExportToBucket(ctx, bucket, flagYear, actor, config.ExportLinkLifespan())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "uploaded gs://%s/%s\n", upload.Bucket, upload.Object)
		if upload.Download != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "download until %s:\n%s\n", upload.Download.ExpiresAt.Format(time.RFC3339), upload.Download.URL)
		}
		return nil
	}

	out := flagOut
	if out == "" {
		out = fmt.Sprintf("budget_%d.xlsx", flagYear)
	}
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	if err := planner.Export(ctx, f, flagYear, actor); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", out)
	return nil
}
