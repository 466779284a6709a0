package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/WessleyAI/stylesearch/engine/app"
	"github.com/WessleyAI/stylesearch/pkg/config"
	"github.com/WessleyAI/stylesearch/pkg/logx"
)

// env carries what the commands need from the outside world.
type env struct {
	out  io.Writer
	load func(envFiles ...string) (*config.Config, error)
}

func defaultEnv() env {
	return env{out: os.Stdout, load: config.Load}
}

type rootFlags struct {
	envFile  string
	logLevel string
	jsonOut  bool
}

func newRootCmd(e env) *cobra.Command {
	f := &rootFlags{}
	root := &cobra.Command{
		Use:   "stylectl",
		Short: "Operate the multimodal fashion product search backend",
		Long: `stylectl ingests products, runs text and image searches and asks the
shopping assistant, using the same configuration as the API server.

Example usage:
  stylectl init-collection
  stylectl ingest --id P1 --title "Black Dress" --video-url https://cdn/p1.mp4
  stylectl ask "something elegant for a summer wedding"
  stylectl search-image ./look.jpg --top-k 5
  stylectl products show P1`,
		SilenceUsage: true,
	}
	root.SetOut(e.out)
	root.PersistentFlags().StringVar(&f.envFile, "env-file", ".env", "dotenv file to load before the environment")
	root.PersistentFlags().StringVar(&f.logLevel, "log-level", "", "override LOG_LEVEL")
	root.PersistentFlags().BoolVar(&f.jsonOut, "json", false, "print results as JSON")

	s := &session{env: e, flags: f}
	root.AddCommand(
		newIngestCmd(s),
		newAskCmd(s),
		newSearchTextCmd(s),
		newSearchImageCmd(s),
		newInitCollectionCmd(s),
		newProductsCmd(s),
	)
	return root
}

// session builds the application lazily so flag errors never touch a backend.
type session struct {
	env   env
	flags *rootFlags
}

func (s *session) open(ctx context.Context, opts app.Options) (*app.App, error) {
	cfg, err := s.env.load(s.flags.envFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	lvl := cfg.LogLevel
	if s.flags.logLevel != "" {
		lvl = s.flags.logLevel
	}
	level, err := logx.ParseLevel(lvl)
	if err != nil {
		return nil, err
	}
	// Logs go to stderr so stdout stays parseable.
	logger := logx.New(os.Stderr, level)

	opts.ServiceName = "stylectl"
	return app.Build(ctx, cfg, logger, opts)
}

func (s *session) print(cmd *cobra.Command, v any, plain func(w io.Writer)) error {
	w := cmd.OutOrStdout()
	if s.flags.jsonOut || plain == nil {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	plain(w)
	return nil
}

func closeApp(a *app.App) {
	if err := a.Close(context.Background()); err != nil {
		slog.Warn("stylectl: close", "err", err)
	}
}
