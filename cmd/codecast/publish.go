package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rickgao/codecast/internal/codecast"
	"github.com/rickgao/codecast/internal/config"
)

func newPublishCmd(opts *options) *cobra.Command {
	var (
		codeFile string
		language string
		chat     string
	)

	cmd := &cobra.Command{
		Use:   "publish ROOM",
		Short: "Send one code update or chat line to a room",
		Long:  `Join a room, send the contents of --code-file or the --chat text, and leave`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (codeFile == "") == (chat == "") {
				return errors.New("exactly one of --code-file or --chat is required")
			}

			var code []byte
			if codeFile != "" {
				var err error
				if code, err = os.ReadFile(codeFile); err != nil {
					return fmt.Errorf("read code file: %w", err)
				}
			}

			cfg, err := config.LoadAndValidate(opts.configPath)
			if err != nil {
				return err
			}
			// One-shot: a dropped connection ends the command
			cfg.Server.ReconnectDelay = -1

			s, err := newSession(cfg, opts.logger)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(opts.logger)
			defer cancel()

			if err := s.connect(ctx); err != nil {
				return err
			}
			defer s.client.Disconnect()

			room, err := codecast.Join(s.client, args[0], s.roomConfig(), nil)
			if err != nil {
				return err
			}
			defer room.Leave()

			if codeFile != "" {
				err = room.PublishCode(string(code), language)
			} else {
				err = room.Say(chat)
			}
			if err != nil {
				return err
			}

			opts.logger.Info("published", "room", room.ID())
			return nil
		},
	}

	cmd.Flags().StringVar(&codeFile, "code-file", "", "file whose contents are broadcast as a code update")
	cmd.Flags().StringVar(&language, "language", "", "language tag for --code-file")
	cmd.Flags().StringVar(&chat, "chat", "", "chat line to send")
	return cmd
}
