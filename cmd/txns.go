package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/diligence-cli/internal/model"
	"github.com/sells-group/diligence-cli/internal/store"
)

var txnsCmd = &cobra.Command{
	Use:   "txns",
	Short: "Inspect transaction history",
	Long:  "Commands for listing transactions and viewing their assessments.",
}

// -- txns list --

var txnsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List transactions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		txns, err := st.ListTransactions(ctx, store.TransactionFilter{
			Status: model.TransactionStatus(status),
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "txns list")
		}

		if len(txns) == 0 {
			fmt.Fprintln(os.Stderr, "No transactions found.")
			return nil
		}

		formatTxnsList(os.Stdout, txns)
		return nil
	},
}

// -- txns show --

var txnsShowCmd = &cobra.Command{
	Use:   "show <transaction-id>",
	Short: "Show full details of a transaction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		txn, err := st.GetTransaction(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "txns show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(txn)
	},
}

// -- txns result --

var txnsResultCmd = &cobra.Command{
	Use:   "result <transaction-id>",
	Short: "Show the risk assessment for a transaction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		assessment, err := st.GetAssessment(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "txns result")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(assessment)
	},
}

func formatTxnsList(out io.Writer, txns []model.Transaction) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTATUS\tSUBMITTED\tDURATION\tTEXT")
	_, _ = fmt.Fprintln(w, "--\t------\t---------\t--------\t----")

	for _, t := range txns {
		dur := t.UpdatedAt.Sub(t.SubmittedAt).Round(time.Second).String()

		text := t.RawText
		if len(text) > 40 {
			text = text[:37] + "..."
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			t.ID, t.Status, t.SubmittedAt.Format(time.RFC3339), dur, text)
	}
	_ = w.Flush()
}

func init() {
	txnsListCmd.Flags().String("status", "", "filter by status")
	txnsListCmd.Flags().Int("limit", 50, "max transactions to return")

	txnsCmd.AddCommand(txnsListCmd)
	txnsCmd.AddCommand(txnsShowCmd)
	txnsCmd.AddCommand(txnsResultCmd)
	rootCmd.AddCommand(txnsCmd)
}
