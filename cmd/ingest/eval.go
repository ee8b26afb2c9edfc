package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/brand-assistant/backend/internal/evaluation"
	appLogger "github.com/brand-assistant/backend/pkg/logger"
)

var (
	evalDataset string
	evalK       int
	evalJSON    bool
)

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Measure retrieval hit rate and MRR on a labelled dataset",
	Args:  cobra.NoArgs,
	RunE:  runEval,
}

func init() {
	evalCmd.Flags().StringVar(&evalDataset, "dataset", "", "JSON dataset with an items array")
	evalCmd.Flags().IntVarP(&evalK, "k", "k", 0, "passages per query (default rag.defaultK)")
	evalCmd.Flags().BoolVar(&evalJSON, "json", false, "output the report as JSON")
	_ = evalCmd.MarkFlagRequired("dataset")
	rootCmd.AddCommand(evalCmd)
}

func runEval(cmd *cobra.Command, _ []string) error {
	f, err := os.Open(evalDataset)
	if err != nil {
		return err
	}
	defer f.Close()

	dataset, err := evaluation.LoadDataset(f)
	if err != nil {
		return err
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()
	defer appLogger.Sync()

	k := evalK
	if k <= 0 {
		k = a.Config.RAG.DefaultK
	}
	report, err := evaluation.NewEvaluator(a.Retriever, k).RunDatasetEvaluation(cmd.Context(), dataset)
	if err != nil {
		return fmt.Errorf("evaluation failed: %w", err)
	}

	if evalJSON {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal report: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}
	cmd.Print(evaluation.GenerateReport(report))
	return nil
}
