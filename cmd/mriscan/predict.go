package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/born-ml/mriscan/internal/artifact"
	"github.com/born-ml/mriscan/internal/backend/cpu"
	"github.com/born-ml/mriscan/internal/envconfig"
	"github.com/born-ml/mriscan/internal/inference"
)

func modelPath(cmd *cobra.Command) string {
	if p, _ := cmd.Flags().GetString("model"); p != "" {
		return p
	}
	return artifact.Path(envconfig.Trained(), artifact.NameEnsemble)
}

func newPredictCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "predict IMAGE [IMAGE...]",
		Short: "Classify MRI scans",
		Args:  cobra.MinimumNArgs(1),
		RunE:  predictHandler,
	}
	cmd.Flags().String("model", "", "Model file (default $MRI_TRAINED/"+artifact.NameEnsemble+".born)")
	cmd.Flags().Bool("json", false, "Print one JSON object per image")
	return cmd
}

type predictOutput struct {
	Filename   string                      `json:"filename"`
	Prediction *inference.PredictionResult `json:"prediction"`
}

func predictHandler(cmd *cobra.Command, args []string) error {
	p, err := inference.Load(modelPath(cmd), cpu.NewWithWorkers(workers()))
	if err != nil {
		return err
	}
	asJSON, _ := cmd.Flags().GetBool("json")

	out := cmd.OutOrStdout()
	classes := p.Classes()
	table := tablewriter.NewWriter(out)
	table.SetHeader(append([]string{"FILE", "PREDICTION"}, classes...))
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")

	enc := json.NewEncoder(out)
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		res, err := p.Predict(cmd.Context(), data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		if asJSON {
			if err := enc.Encode(predictOutput{Filename: filepath.Base(path), Prediction: res}); err != nil {
				return err
			}
			continue
		}
		row := []string{path, res.PredictedClass}
		for _, c := range classes {
			row = append(row, fmt.Sprintf("%.4f", res.Probability(c)))
		}
		table.Append(row)
	}
	if !asJSON {
		table.Render()
	}
	return nil
}
