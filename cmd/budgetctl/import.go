package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/budget_backend/models"
	"bitbucket.org/mmdatafocus/budget_backend/workflow"
	"github.com/spf13/cobra"
)

var (
	flagSubmitKind string
	flagKind       string
	flagSheetYear  int
)

var importCmd = &cobra.Command{
	Use:   "import <file.json|file.xlsx>",
	Short: "Upsert line items from a JSON array or an xlsx planning sheet, optionally submitting them",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

func init() {
	importCmd.Flags().StringVar(&flagKind, "kind", "budget", "Line item kind for xlsx rows")
	importCmd.Flags().IntVar(&flagSheetYear, "year", time.Now().Year(), "Planning year for xlsx rows")
	importCmd.Flags().StringVar(&flagSubmitKind, "submit", "", "Submit the imported items as budget_submission or forecast_submission")
	rootCmd.AddCommand(importCmd)
}

func readLineItems(path string) ([]models.LineItemInput, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var inputs []models.LineItemInput
	if err := json.Unmarshal(raw, &inputs); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return inputs, nil
}

func runImport(cmd *cobra.Command, args []string) error {
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

	out := cmd.OutOrStdout()
	var ids []string
	if strings.EqualFold(filepath.Ext(args[0]), ".xlsx") {
		ids, err = importSheet(cmd, planner, args[0], actor)
	} else {
		ids, err = importJSON(cmd, planner, args[0], actor)
	}
	if err != nil {
		return err
	}

	if flagSubmitKind == "" || len(ids) == 0 {
		return nil
	}
	result, err := planner.SubmitLineItems(ctx, ids, models.RequestKind(flagSubmitKind), "", actor)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "submitted as %s (request %s)\n", result.Snapshot.WorkflowID, result.Request.ID)
	return nil
}

func importJSON(cmd *cobra.Command, planner *workflow.Planner, path string, actor models.Actor) ([]string, error) {
	inputs, err := readLineItems(path)
	if err != nil {
		return nil, err
	}
	out := cmd.OutOrStdout()
	ids := make([]string, 0, len(inputs))
	var failed int
	for i := range inputs {
		item, err := planner.SaveLineItem(cmd.Context(), &inputs[i], actor)
		if err != nil {
			failed++
			fmt.Fprintf(out, "row %d: %v\n", i+1, err)
			continue
		}
		ids = append(ids, item.ID)
	}
	fmt.Fprintf(out, "imported %d, failed %d\n", len(ids), failed)
	return ids, nil
}

func importSheet(cmd *cobra.Command, planner *workflow.Planner, path string, actor models.Actor) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	result, err := planner.ImportSheet(cmd.Context(), f, models.LineItemKind(flagKind), flagSheetYear, actor)
	if err != nil {
		return nil, err
	}
	out := cmd.OutOrStdout()
	for _, failure := range result.Failed {
		fmt.Fprintf(out, "row %d: %s\n", failure.Row, failure.Error)
	}
	fmt.Fprintf(out, "imported %d, failed %d\n", len(result.Saved), len(result.Failed))
	ids := make([]string, 0, len(result.Saved))
	for _, item := range result.Saved {
		ids = append(ids, item.ID)
	}
	return ids, nil
}
