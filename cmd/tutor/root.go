package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"tutor/internal/backend"
	"tutor/internal/config"
	"tutor/internal/manager"
	"tutor/internal/prompt"
)

// Version is stamped at build time with -ldflags "-X main.Version=...".
var Version = "dev"

// options carries flag values; they override the config file only when set.
type options struct {
	configPath string
	backend    string
	model      string
	modelsDir  string
	template   string
	logLevel   string
	logFile    string

	plain bool
	addr  string
	cors  string
	watch bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "tutor",
		Short: "Offline AI tutor backed by a local language model",
		Long: `tutor answers study questions with hints instead of solutions,
using a model that runs entirely on this machine.

Examples:
  tutor                          # interactive chat window
  tutor chat --plain < q.txt     # line console, reads questions from stdin
  tutor serve --addr :8765       # local HTTP API
  tutor models                   # list weights in models_dir`,
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
		SilenceUsage:      true,
		SilenceErrors:     true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "Config file (.yaml, .json, .toml); defaults to $TUTOR_CONFIG")
	pf.StringVar(&opts.backend, "backend", "", "Inference backend: llamacpp, llama-server, ollama")
	pf.StringVarP(&opts.model, "model", "m", "", "Model file path, registry id, or backend model name")
	pf.StringVar(&opts.modelsDir, "models-dir", "", "Directory scanned for *.gguf weights")
	pf.StringVar(&opts.template, "template", "", "Prompt template: "+strings.Join(prompt.Names(), ", "))
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&opts.logFile, "log-file", "", "Append logs to this file")

	chatCmd := newChatCmd(opts)
	root.RunE = chatCmd.RunE
	root.Flags().AddFlagSet(chatCmd.Flags())
	root.AddCommand(chatCmd, newServeCmd(opts), newModelsCmd(opts), newVersionCmd())
	return root
}

// resolveConfig layers defaults, the config file and explicitly set flags.
func resolveConfig(cmd *cobra.Command, opts *options) (config.Config, error) {
	var cfg config.Config
	path := opts.configPath
	if path == "" {
		path = os.Getenv("TUTOR_CONFIG")
	}
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	set := func(name string, dst *string, v string) {
		if flags.Changed(name) {
			*dst = v
		}
	}
	set("backend", &cfg.Backend, opts.backend)
	set("model", &cfg.Model, opts.model)
	set("models-dir", &cfg.ModelsDir, opts.modelsDir)
	set("template", &cfg.Template, opts.template)
	set("log-level", &cfg.LogLevel, opts.logLevel)
	set("log-file", &cfg.LogFile, opts.logFile)
	set("addr", &cfg.Addr, opts.addr)
	if flags.Changed("cors") {
		cfg.CORSOrigins = splitCSV(opts.cors)
	}
	if flags.Changed("watch") {
		cfg.WatchModels = opts.watch
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger. console is where logs go when no log
// file is configured; nil discards them.
func newLogger(cfg config.Config, console io.Writer) (zerolog.Logger, func(), error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	closeFn := func() {}
	var out io.Writer
	switch {
	case cfg.LogFile != "":
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), closeFn, fmt.Errorf("open log file: %w", err)
		}
		out = f
		closeFn = func() { _ = f.Close() }
	case console != nil:
		out = zerolog.ConsoleWriter{Out: console, TimeFormat: time.TimeOnly}
	default:
		return zerolog.Nop(), closeFn, nil
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger(), closeFn, nil
}

// newManager wires the backend, template and limits from cfg.
func newManager(cfg config.Config, log zerolog.Logger) (*manager.Manager, error) {
	opener, err := backend.New(cfg, log)
	if err != nil {
		return nil, err
	}
	tmpl, _ := prompt.Lookup(cfg.Template)
	return manager.NewWithConfig(manager.ManagerConfig{
		Opener: opener,
		Loader: manager.LoaderConfig{
			Ref:       cfg.Model,
			ModelsDir: cfg.ModelsDir,
			ModelURL:  cfg.ModelURL,
		},
		Template:  tmpl,
		Directive: cfg.SystemPrompt,
		Params: backend.Params{
			MaxTokens:     cfg.MaxTokens,
			Temperature:   cfg.Temperature,
			TopP:          cfg.TopP,
			TopK:          cfg.TopK,
			RepeatPenalty: cfg.RepeatPenalty,
			Seed:          cfg.Seed,
		},
		Stream: manager.StreamConfig{
			StallTimeout: cfg.StallTimeout(),
			JoinGrace:    cfg.JoinGrace(),
		},
		MaxQueueDepth: cfg.MaxQueueDepth,
		MaxWait:       cfg.MaxWait(),
		Logger:        &log,
	}), nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
