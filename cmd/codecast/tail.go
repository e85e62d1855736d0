package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/rickgao/codecast/internal/codecast"
	"github.com/rickgao/codecast/internal/config"
)

func newTailCmd(opts *options) *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "tail ROOM [ROOM...]",
		Short: "Print live room events",
		Long:  `Join one or more rooms and print their events until interrupted`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadAndValidate(opts.configPath)
			if err != nil {
				return err
			}
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

			printer := &eventPrinter{w: cmd.OutOrStdout(), raw: raw}
			var rooms []*codecast.Room
			for _, id := range args {
				room, err := codecast.Join(s.client, id, s.roomConfig(), printer)
				if err != nil {
					return fmt.Errorf("join %s: %w", id, err)
				}
				rooms = append(rooms, room)
			}
			opts.logger.Info("tailing rooms", "rooms", args)

			<-ctx.Done()

			for _, room := range rooms {
				room.Leave()
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print bodies as received")
	return cmd
}

// eventPrinter writes one line per room event.
type eventPrinter struct {
	mu  sync.Mutex
	w   io.Writer
	raw bool
}

func (p *eventPrinter) HandleEvent(ev codecast.Event) {
	line := formatEvent(ev)
	if p.raw {
		line = fmt.Sprintf("[%s] %s", ev.Room, ev.Raw)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, line)
}

// formatEvent renders ev for humans.
func formatEvent(ev codecast.Event) string {
	who := ev.Sender
	if who == "" {
		who = "?"
	}
	prefix := fmt.Sprintf("[%s] %s", ev.Room, who)

	switch ev.Type {
	case codecast.EventCodeUpdate:
		lines := strings.Count(ev.Code, "\n") + 1
		if ev.Code == "" {
			lines = 0
		}
		lang := ev.Language
		if lang == "" {
			lang = "text"
		}
		return fmt.Sprintf("%s updated code (%s, %d lines)", prefix, lang, lines)
	case codecast.EventCursorMove:
		if ev.Cursor == nil {
			return prefix + " moved cursor"
		}
		return fmt.Sprintf("%s moved cursor to %d:%d", prefix, ev.Cursor.Line, ev.Cursor.Column)
	case codecast.EventJoin:
		return prefix + " joined"
	case codecast.EventLeave:
		return prefix + " left"
	case codecast.EventChat:
		return fmt.Sprintf("%s: %s", prefix, ev.Text)
	}
	return fmt.Sprintf("[%s] unknown event: %s", ev.Room, ev.Raw)
}
