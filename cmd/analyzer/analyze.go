package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	perrors "github.com/p-blackswan/project-analyzer/internal/errors"
	"github.com/p-blackswan/project-analyzer/internal/event"
)

type analyzeFlags struct {
	events      bool
	asJSON      bool
	model       string
	keepWorkDir bool
}

func newAnalyzeCmd(a *app) *cobra.Command {
	var f analyzeFlags
	cmd := &cobra.Command{
		Use:   "analyze <archive.zip>",
		Short: "Analyse one archive and print the report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.analyze(cmd, args[0], f)
		},
	}
	cmd.Flags().BoolVar(&f.events, "events", false, "log every pipeline event")
	cmd.Flags().BoolVar(&f.asJSON, "json", false, "print the artifacts as JSON")
	cmd.Flags().StringVar(&f.model, "model", "", "polish model, e.g. anthropic/claude-3-5-haiku-latest or none")
	cmd.Flags().BoolVar(&f.keepWorkDir, "keep-workdir", false, "keep the extracted files after the run")
	return cmd
}

func (a *app) analyze(cmd *cobra.Command, archivePath string, f analyzeFlags) error {
	if f.keepWorkDir {
		a.cfg.DeleteTempAfterRun = false
	}
	orch, err := a.buildPipeline(nil, f.model)
	if err != nil {
		return err
	}

	var observe event.Observer
	if f.events {
		observe = func(ev event.Event) {
			env, err := event.Wrap(ev)
			if err != nil {
				return
			}
			a.logger.Info().Str("event", string(env.Type)).RawJSON("payload", env.Payload).Msg("pipeline event")
		}
	}

	artifacts, err := orch.Run(cmd.Context(), archivePath, observe)
	if err != nil {
		var verr *perrors.ValidationError
		if errors.As(err, &verr) {
			return fmt.Errorf("archive rejected: %w", err)
		}
		return err
	}

	out := cmd.OutOrStdout()
	if f.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(artifacts)
	}
	return renderReport(out, artifacts, colorEnabled(out))
}

func colorEnabled(w any) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}
