package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Guilhem-Bonnet/hue-downloader/internal/app"
	"github.com/Guilhem-Bonnet/hue-downloader/internal/config"
	"github.com/Guilhem-Bonnet/hue-downloader/internal/domain"
	"github.com/Guilhem-Bonnet/hue-downloader/internal/engine"
	"github.com/Guilhem-Bonnet/hue-downloader/internal/logging"
)

// newFetchCommand exécute l'acquisition dans ce process, sans serveur.
// Même base et même bail que le serveur: les deux peuvent coexister.
func newFetchCommand(opts *rootOptions) *cobra.Command {
	var req app.DownloadRequest

	cmd := &cobra.Command{
		Use:   "fetch <link>",
		Short: "Télécharge immédiatement (sans serveur) et sort avec le code du résultat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Link = args[0]
			cfg, _, _, err := config.Load(opts.configPath)
			if err != nil {
				return &exitError{code: domain.ExitFailed, msg: err.Error()}
			}
			logger, closeLog, err := logging.New(cfg.Log, "hue", os.Stderr)
			if err != nil {
				return &exitError{code: domain.ExitFailed, msg: err.Error()}
			}
			defer func() { _ = closeLog() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			eng, err := engine.Open(ctx, cfg, logger)
			if err != nil {
				return &exitError{code: domain.ExitFailed, msg: err.Error()}
			}
			defer func() { _ = eng.Close() }()

			params, err := eng.Commands.PlanDownload(ctx, req)
			if err != nil {
				code := domain.ExitFailed
				if app.IsValidationError(err) {
					code = domain.ExitInvalidEpisode
				}
				return &exitError{code: code, msg: err.Error()}
			}

			out := cmd.OutOrStdout()
			res, err := app.RunDownload(ctx, eng.DownloadExecutor(), params, func(p float64) {
				fmt.Fprintf(out, "progress %.0f%%\n", p*100)
			})
			if res.Outcome != "" {
				printRange(out, res)
			}
			switch {
			case res.Outcome == domain.OutcomeCancelled || errors.Is(err, context.Canceled):
				return &exitError{code: domain.ExitCancelled, msg: "cancelled"}
			case res.ExitCode != domain.ExitOK:
				return &exitError{code: res.ExitCode, msg: errMessage(err)}
			case err != nil:
				return &exitError{code: domain.ExitFailed, msg: err.Error()}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&req.Episodes, "episodes", "e", "", "Épisode N ou plage N-M (défaut: l'épisode du lien)")
	cmd.Flags().BoolVar(&req.Dub, "dub", false, "Version doublée")
	cmd.Flags().BoolVar(&req.Follow, "follow", false, "Suivre la série après la plage")
	cmd.Flags().BoolVar(&req.Notify, "notify", false, "Notifier les nouveaux épisodes (avec --follow)")
	cmd.Flags().StringVar(&req.Subscriber, "subscriber", envOr("HUE_SUBSCRIBER", ""), "Identifiant de l'abonné")
	return cmd
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
