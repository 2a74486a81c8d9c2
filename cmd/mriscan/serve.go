package main

import (
	"errors"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/born-ml/mriscan/internal/backend/cpu"
	"github.com/born-ml/mriscan/internal/envconfig"
	"github.com/born-ml/mriscan/internal/inference"
	"github.com/born-ml/mriscan/internal/server"
	"github.com/born-ml/mriscan/internal/store"
	"github.com/born-ml/mriscan/internal/version"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start"},
		Short:   "Start the API server",
		Args:    cobra.NoArgs,
		RunE:    serveHandler,
	}
	cmd.Flags().String("model", "", "Model file (default $MRI_TRAINED/MRI_ENSEMBLED.born)")
	return cmd
}

func serveHandler(cmd *cobra.Command, _ []string) error {
	slog.Info("server config", "version", version.Version, "env", envconfig.Values())

	st, err := store.Open(envconfig.DB())
	if err != nil {
		return err
	}
	defer st.Close()

	// Without a model the API still serves records; predictions answer 503.
	path := modelPath(cmd)
	p, err := inference.Load(path, cpu.NewWithWorkers(workers()))
	switch {
	case errors.Is(err, inference.ErrModelNotLoaded):
		slog.Warn("model not loaded, predictions are disabled", "path", path, "error", err)
		p = nil
	case err != nil:
		return err
	default:
		slog.Info("model loaded", "path", path, "arch", p.Arch().Kind, "classes", p.Classes())
	}

	s := server.New(server.Options{
		Store:         st,
		Predictor:     p,
		UploadDir:     envconfig.Uploads(),
		Origins:       envconfig.AllowedOrigins(),
		MaxConcurrent: int(envconfig.NumParallel()),
		Logger:        slog.Default(),
	})

	ln, err := net.Listen("tcp", envconfig.Host())
	if err != nil {
		return err
	}
	slog.Info("listening", "addr", ln.Addr().String())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return server.Serve(ctx, ln, s.Routes())
}
