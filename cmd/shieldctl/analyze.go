package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/mbd888/merchantshield/internal/auth"
	"github.com/mbd888/merchantshield/internal/retry"
	"github.com/mbd888/merchantshield/internal/risk"
	"github.com/mbd888/merchantshield/internal/transactions"
	"github.com/spf13/cobra"
)

func analyzeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Score a transaction for fraud risk",
		Long: `Submit a transaction as the logged-in merchant.

Features V1..V28 are given as repeated --feature flags:

  shieldctl analyze --amount 149.62 --time 0 -f V1=-1.36 -f V2=0.07

With --retries, an unreachable backend or a 5xx answer is retried with
backoff. Each attempt is a new submission with a new transaction id.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			form, err := formFromFlags(cmd)
			if err != nil {
				return err
			}
			retries, _ := cmd.Flags().GetInt("retries")

			var assessment *risk.Assessment
			policy := retry.DefaultPolicy
			policy.Attempts = retries + 1
			err = retry.Do(cmd.Context(), policy, func(int) error {
				var err error
				assessment, err = a.client.Analyzer.Analyze(cmd.Context(), form)
				return err
			}, func(attempt int, err error, wait time.Duration) {
				fmt.Fprintf(a.errOut, "Attempt %d failed (%v), retrying in %s\n",
					attempt, err, wait.Round(time.Millisecond))
			})
			if err != nil {
				return err
			}

			if a.asJSON {
				return a.printJSON(transactions.FromAssessment(assessment))
			}
			fmt.Fprintf(a.out, "Transaction %s\n", assessment.ShortID)
			fmt.Fprintf(a.out, "  Fraud probability: %.4f\n", assessment.FraudProbability)
			fmt.Fprintf(a.out, "  Risk:              %s\n", strings.ToUpper(string(assessment.Label)))
			fmt.Fprintf(a.out, "  %s\n", assessment.Explanation)
			return nil
		},
	}
	cmd.Flags().String("amount", "", "Transaction amount (required)")
	cmd.Flags().String("time", "", "Seconds since the first transaction (default 0)")
	cmd.Flags().StringArrayP("feature", "f", nil, "Model feature as Vn=value (repeatable)")
	cmd.Flags().Int("retries", 0, "Retry transient failures this many times")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

// formFromFlags collects the raw form. Numeric validation happens in the
// builder so the CLI reports the same messages as every other surface.
func formFromFlags(cmd *cobra.Command) (risk.Form, error) {
	amount, _ := cmd.Flags().GetString("amount")
	tm, _ := cmd.Flags().GetString("time")
	form := risk.Form{"Amount": amount, "Time": tm}

	features, _ := cmd.Flags().GetStringArray("feature")
	for _, kv := range features {
		k, v, ok := strings.Cut(kv, "=")
		k = strings.TrimSpace(k)
		if !ok || !risk.IsFeatureKey(k) {
			return nil, &auth.ValidationError{Field: "feature", Message: fmt.Sprintf("expected Vn=value, got %q", kv)}
		}
		form[k] = strings.TrimSpace(v)
	}
	return form, nil
}
