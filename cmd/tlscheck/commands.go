package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.trai.ch/zerr"

	"tlscheck/internal/tlscheck"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "tlscheck",
		Short:         "Answer whether a host serves HTTPS, asking a federation of peers when unsure",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", getenvDefault("TLSCHECK_CONFIG", "/tlscheck.yaml"), "path to tlscheck.yaml")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the query endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), configPath)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "check <host>",
		Short: "Resolve one host and print the answer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return check(cmd, configPath, args[0])
		},
	})
	return root
}

func loadConfig(path string) (tlscheck.Config, error) {
	cfg, err := tlscheck.LoadConfig(path)
	if errors.Is(err, os.ErrNotExist) {
		return tlscheck.DefaultConfig(), nil
	}
	if err != nil {
		return tlscheck.Config{}, zerr.Wrap(err, "failed to load configuration")
	}
	return cfg, nil
}

func serve(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	log := tlscheck.NewLogger(cfg, os.Stderr)
	slog.SetDefault(log)

	svc, err := tlscheck.NewService(cfg, log)
	if err != nil {
		return zerr.Wrap(err, "failed to init service")
	}
	defer svc.Close()

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return zerr.With(zerr.Wrap(err, "failed to listen"), "addr", addr)
	}

	srv := &http.Server{
		Handler:           svc.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := context.WithCancel(ctx)
	defer stop()

	go func() {
		log.Info("tlscheck listening",
			"addr", addr,
			"federation", cfg.Federation.Servers,
			"parallel", cfg.Federation.Parallel,
			"backend", cfg.Storage.Backend,
		)
		err := srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	return nil
}

func check(cmd *cobra.Command, configPath, host string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	log := tlscheck.NewLogger(cfg, cmd.ErrOrStderr())

	svc, err := tlscheck.NewService(cfg, log)
	if err != nil {
		return zerr.Wrap(err, "failed to init service")
	}
	defer svc.Close()

	enabled, err := svc.Check(cmd.Context(), host)
	if err != nil {
		return err
	}
	return json.NewEncoder(cmd.OutOrStdout()).Encode(tlscheck.Answer{HTTPSEnabled: enabled})
}
