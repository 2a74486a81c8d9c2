package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/born-ml/mriscan/internal/artifact"
	"github.com/born-ml/mriscan/internal/backend/cpu"
	"github.com/born-ml/mriscan/internal/dataset"
	"github.com/born-ml/mriscan/internal/envconfig"
	"github.com/born-ml/mriscan/internal/models"
	"github.com/born-ml/mriscan/internal/train"
)

const componentAll = "all"

func addDataFlags(cmd *cobra.Command) {
	cmd.Flags().String("dataset", envconfig.Dataset(), "Dataset directory containing Training and Testing")
	cmd.Flags().String("trained", envconfig.Trained(), "Directory for trained models")
	cmd.Flags().Int("batch-size", int(envconfig.BatchSize()), "Batch size")
}

func trainOptions(cmd *cobra.Command) (train.Options, error) {
	flags := cmd.Flags()
	datasetDir, _ := flags.GetString("dataset")
	trainedDir, _ := flags.GetString("trained")
	batchSize, _ := flags.GetInt("batch-size")

	opts := train.Options{
		DatasetDir:    datasetDir,
		TrainedDir:    trainedDir,
		CheckpointDir: envconfig.Checkpoints(),
		PretrainedDir: envconfig.PretrainedDir(),
		Data: dataset.Config{
			BatchSize: batchSize,
			Workers:   workers(),
		},
		Seed:   int64(envconfig.Seed()),
		Model:  models.Config{Backend: cpu.NewWithWorkers(workers())},
		Report: cmd.OutOrStdout(),
	}

	if flags.Lookup("checkpoints") != nil {
		opts.CheckpointDir, _ = flags.GetString("checkpoints")
		opts.PretrainedDir, _ = flags.GetString("pretrained")
		opts.Epochs, _ = flags.GetInt("epochs")
		opts.Parallel, _ = flags.GetBool("parallel")
		opts.Data.ImageSize, _ = flags.GetInt("image-size")
		opts.Model.Width, _ = flags.GetInt("width")
		seed, _ := flags.GetInt64("seed")
		opts.Seed = seed
	}
	if opts.DatasetDir == "" {
		return opts, fmt.Errorf("%w: no dataset directory", dataset.ErrConfiguration)
	}
	return opts, nil
}

func newTrainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   fmt.Sprintf("train [%s|%s]", strings.Join(train.Components(), "|"), componentAll),
		Short: "Train a model component, or every missing one",
		Long: `Train a model component, or every missing one.

"all" trains the extractors first and the ensemble last, skipping
components whose artifacts already exist. The ensemble needs the
vgg16, resnet50v2 and cnn artifacts.`,
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: append(train.Components(), componentAll),
		RunE:      trainHandler,
	}

	addDataFlags(cmd)
	cmd.Flags().String("checkpoints", envconfig.Checkpoints(), "Directory for best-validation checkpoints")
	cmd.Flags().String("pretrained", envconfig.PretrainedDir(), "Directory with <backbone>.safetensors ImageNet weights")
	cmd.Flags().Int64("seed", int64(envconfig.Seed()), "Seed for the validation split")
	cmd.Flags().Int("epochs", 0, "Cap the epochs of every phase (0 keeps the defaults)")
	cmd.Flags().Int("image-size", dataset.DefaultImageSize, "Input side in pixels, a multiple of 32")
	cmd.Flags().Int("width", 1, "Divide every layer width by this factor")
	cmd.Flags().Bool("parallel", false, "Train independent extractors concurrently")
	return cmd
}

func trainHandler(cmd *cobra.Command, args []string) error {
	component := componentAll
	if len(args) > 0 {
		component = args[0]
	}
	opts, err := trainOptions(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	var results []*train.Result
	if component == componentAll {
		results, err = train.RunAll(ctx, opts)
	} else {
		var plan train.Plan
		if plan, err = train.PlanFor(component); err != nil {
			return err
		}
		var res *train.Result
		if res, err = train.Run(ctx, plan, opts); res != nil {
			results = append(results, res)
		}
	}
	if len(results) > 0 {
		summarize(cmd, results, opts.TrainedDir)
	}
	return err
}

func summarize(cmd *cobra.Command, results []*train.Result, trainedDir string) {
	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"COMPONENT", "STATUS", "EPOCHS", "TEST LOSS", "TEST ACCURACY", "ARTIFACT"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")

	for _, r := range results {
		if r == nil {
			continue
		}
		status, epochs, loss, acc := "trained", "-", "-", "-"
		if r.Skipped {
			status = "skipped"
		}
		if r.History != nil {
			epochs = fmt.Sprint(len(r.History.Epochs))
		}
		if r.Test != nil {
			loss = fmt.Sprintf("%.4f", r.Test.Loss)
			acc = fmt.Sprintf("%.2f%%", 100*r.Test.Accuracy)
		}
		table.Append([]string{r.Plan.Component, status, epochs, loss, acc, artifact.Path(trainedDir, r.Plan.Artifact)})
	}
	fmt.Fprintln(cmd.OutOrStdout())
	table.Render()
}

func newEvaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   fmt.Sprintf("evaluate [%s]", strings.Join(train.Components(), "|")),
		Short: "Evaluate a trained component on the test split",
		Args:  cobra.MaximumNArgs(1),
		RunE:  evaluateHandler,
	}
	addDataFlags(cmd)
	return cmd
}

func evaluateHandler(cmd *cobra.Command, args []string) error {
	component := train.ComponentEnsemble
	if len(args) > 0 {
		component = args[0]
	}
	plan, err := train.PlanFor(component)
	if err != nil {
		return err
	}
	opts, err := trainOptions(cmd)
	if err != nil {
		return err
	}

	m, err := artifact.Load(artifact.Path(opts.TrainedDir, plan.Artifact), opts.Model.Backend)
	if err != nil {
		return err
	}
	metrics, report, err := train.Test(cmd.Context(), m, opts)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: loss %.4f, accuracy %.2f%%\n\n", plan.Artifact, metrics.Loss, 100*metrics.Accuracy)
	report.Render(out)
	return nil
}
