package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tutor/internal/chat"
	"tutor/internal/tui"
)

func newChatCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the tutor (default command)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd, opts)
			if err != nil {
				return err
			}
			// the terminal belongs to the UI; logs go to log_file or nowhere
			log, closeLog, err := newLogger(cfg, nil)
			if err != nil {
				return err
			}
			defer closeLog()

			mgr, err := newManager(cfg, log)
			if err != nil {
				return err
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), cfg.JoinGrace()+time.Second)
				defer cancel()
				if err := mgr.Close(ctx); err != nil {
					log.Warn().Err(err).Msg("close manager")
				}
			}()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if !opts.plain {
				return tui.Run(ctx, mgr, cfg.SystemPrompt, log)
			}
			mb := chat.NewMailbox(64)
			defer mb.Close()
			ctl := chat.NewController(ctx, mgr, chat.NewConsole(cmd.OutOrStdout()), mb, cfg.SystemPrompt, log)
			return chat.RunConsole(ctx, ctl, mb, cmd.InOrStdin())
		},
	}
	cmd.Flags().BoolVar(&opts.plain, "plain", false, "Use the line console instead of the full-screen window")
	return cmd
}
