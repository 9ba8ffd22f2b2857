package main

import (
	"fmt"
	"text/tabwriter"

	"bitbucket.org/mmdatafocus/budget_backend/config"
	"bitbucket.org/mmdatafocus/budget_backend/utils"
	"bitbucket.org/mmdatafocus/budget_backend/workflow"
	"github.com/spf13/cobra"
)

var (
	flagMethod     string
	flagQuantity   int
	flagTotal      string
	flagPercentage string
	flagPolicy     string
)

var distributeCmd = &cobra.Command{
	Use:   "distribute",
	Short: "Preview how a yearly quantity spreads over the twelve periods",
	RunE:  runDistribute,
}

func init() {
	distributeCmd.Flags().StringVar(&flagMethod, "method", "equal", "equal, percentage or seasonal")
	distributeCmd.Flags().IntVar(&flagQuantity, "quantity", 0, "Yearly quantity (equal, seasonal)")
	distributeCmd.Flags().StringVar(&flagTotal, "total", "0", "Base total (percentage)")
	distributeCmd.Flags().StringVar(&flagPercentage, "percentage", "0", "Share of the base total (percentage)")
	distributeCmd.Flags().StringVar(&flagPolicy, "policy", "", "Remainder policy, defaults to DISTRIBUTION_REMAINDER_POLICY")
	rootCmd.AddCommand(distributeCmd)
}

func runDistribute(cmd *cobra.Command, _ []string) error {
	total, err := utils.ParseDecimal(flagTotal)
	if err != nil {
		return utils.NewValidationError("total", "%v", err)
	}
	percentage, err := utils.ParseDecimal(flagPercentage)
	if err != nil {
		return utils.NewValidationError("percentage", "%v", err)
	}
	policy := flagPolicy
	if policy == "" {
		policy = config.DistributionRemainderPolicy()
	}

	preview, err := workflow.PreviewDistribution(workflow.DistributionRequest{
		Method:     flagMethod,
		Quantity:   flagQuantity,
		Total:      total,
		Percentage: percentage,
		Policy:     policy,
	})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', tabwriter.AlignRight)
	for i, label := range preview.Labels {
		fmt.Fprintf(w, "%s\t%d\t\n", label, preview.Periods[i])
	}
	fmt.Fprintf(w, "TOTAL\t%d\t\n", preview.Total)
	return w.Flush()
}
