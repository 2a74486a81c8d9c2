package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/born-ml/mriscan/internal/envconfig"
	"github.com/born-ml/mriscan/internal/logutil"
	"github.com/born-ml/mriscan/internal/version"
)

func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-24s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

// NewCLI builds the root command.
func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:           "mriscan",
		Short:         "Brain MRI tumor classifier",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			slog.SetDefault(logutil.NewLogger(cmd.ErrOrStderr(), envconfig.LogLevel()))
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Print(cmd.UsageString())
		},
	}

	trainCmd := newTrainCmd()
	evaluateCmd := newEvaluateCmd()
	predictCmd := newPredictCmd()
	serveCmd := newServeCmd()

	envVars := envconfig.AsMap()
	appendEnvDocs(trainCmd, []envconfig.EnvVar{
		envVars["MRI_DEBUG"],
		envVars["MRI_DATASET"],
		envVars["MRI_TRAINED"],
		envVars["MRI_CHECKPOINTS"],
		envVars["MRI_PRETRAINED_DIR"],
		envVars["MRI_BATCH_SIZE"],
		envVars["MRI_SEED"],
		envVars["MRI_WORKERS"],
	})
	appendEnvDocs(evaluateCmd, []envconfig.EnvVar{envVars["MRI_DATASET"], envVars["MRI_TRAINED"]})
	appendEnvDocs(predictCmd, []envconfig.EnvVar{envVars["MRI_TRAINED"]})
	appendEnvDocs(serveCmd, []envconfig.EnvVar{
		envVars["MRI_DEBUG"],
		envVars["MRI_HOST"],
		envVars["MRI_ORIGINS"],
		envVars["MRI_TRAINED"],
		envVars["MRI_DB"],
		envVars["MRI_UPLOADS"],
		envVars["MRI_NUM_PARALLEL"],
	})

	rootCmd.AddCommand(
		trainCmd,
		evaluateCmd,
		predictCmd,
		serveCmd,
		&cobra.Command{
			Use:   "version",
			Short: "Show version information",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "mriscan version %s\n", version.Version)
			},
		},
	)

	return rootCmd
}

func workers() int {
	if n := int(envconfig.Workers()); n > 0 {
		return n
	}
	return 1
}
