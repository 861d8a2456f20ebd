package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/mbd888/merchantshield/internal/risk"
	"github.com/mbd888/merchantshield/internal/transactions"
	"github.com/spf13/cobra"
)

func transactionsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "transactions",
		Aliases: []string{"tx"},
		Short:   "List transactions, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			merchant, _ := cmd.Flags().GetString("merchant")
			limit, _ := cmd.Flags().GetInt("limit")
			minLabel, err := labelFlag(cmd)
			if err != nil {
				return err
			}

			var records []transactions.Record
			if merchant != "" {
				records, err = a.client.Transactions.ListByMerchant(cmd.Context(), merchant)
			} else {
				records, err = a.client.Transactions.ListAll(cmd.Context(), limit)
			}
			if err != nil {
				return err
			}

			kept := records[:0:0]
			for _, r := range records {
				if r.RiskLabel.AtLeast(minLabel) {
					kept = append(kept, r)
				}
			}
			if a.asJSON {
				return a.printJSON(kept)
			}
			return writeRecords(a.out, kept)
		},
	}
	cmd.Flags().StringP("merchant", "m", "", "Only this merchant's transactions")
	cmd.Flags().IntP("limit", "n", 0, "Maximum transactions to fetch (default from config)")
	cmd.Flags().String("min-label", "", "Only show low, moderate or high and above")
	return cmd
}

func historyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List assessments recorded by this client",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			merchant, _ := cmd.Flags().GetString("merchant")
			limit, _ := cmd.Flags().GetInt("limit")

			history, err := a.client.Analyzer.History(cmd.Context(), merchant, limit)
			if err != nil {
				return err
			}
			records := make([]transactions.Record, 0, len(history))
			for _, h := range history {
				records = append(records, transactions.FromAssessment(h))
			}
			if a.asJSON {
				return a.printJSON(records)
			}
			return writeRecords(a.out, records)
		},
	}
	cmd.Flags().StringP("merchant", "m", "", "Only this merchant's assessments")
	cmd.Flags().IntP("limit", "n", 0, "Maximum assessments to show")
	return cmd
}

func labelFlag(cmd *cobra.Command) (risk.Label, error) {
	raw, _ := cmd.Flags().GetString("min-label")
	return risk.ParseLabel(raw)
}

func writeRecords(out io.Writer, records []transactions.Record) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(out, "No transactions found.")
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tMERCHANT\tPROBABILITY\tRISK\tTIMESTAMP")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%.4f\t%s\t%s\n",
			r.TransactionID, r.MerchantUsername, r.FraudProbability, r.RiskLabel, r.Timestamp)
	}
	return tw.Flush()
}
