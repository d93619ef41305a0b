package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var assessFile string

var assessCmd = &cobra.Command{
	Use:   "assess [text]",
	Short: "Assess a single transaction and print the result",
	Long:  "Submits one transaction narrative, waits for the pipeline to finish, and prints the risk assessment as JSON. The narrative comes from the argument, --file, or stdin.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		text, err := assessInput(args)
		if err != nil {
			return err
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		txn, err := env.Coordinator.Submit(ctx, text)
		if err != nil {
			return eris.Wrap(err, "submit transaction")
		}
		zap.L().Info("transaction submitted", zap.String("transaction_id", txn.ID))

		assessment, err := env.Coordinator.Wait(ctx, txn.ID)
		if err != nil {
			return eris.Wrap(err, "wait for assessment")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(assessment)
	},
}

func assessInput(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	if assessFile != "" {
		raw, err := os.ReadFile(assessFile)
		if err != nil {
			return "", eris.Wrap(err, "read transaction file")
		}
		return string(raw), nil
	}
	raw, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", eris.Wrap(err, "read stdin")
	}
	if len(raw) == 0 {
		return "", eris.New("transaction text is required (argument, --file, or stdin)")
	}
	return string(raw), nil
}

func init() {
	assessCmd.Flags().StringVar(&assessFile, "file", "", "read transaction text from file")
	rootCmd.AddCommand(assessCmd)
}
