package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/hebrewbooks-bot/internal/runtime"
	"github.com/tjfontaine/hebrewbooks-bot/internal/storage"
)

// StatsReport is the stats command output.
type StatsReport struct {
	Users          map[storage.Platform]int `json:"users"`
	ActiveUsers    map[storage.Platform]int `json:"active_users"`
	InlineSearches int64                    `json:"inline_searches"`
	MsgSearches    int64                    `json:"msg_searches"`
	BooksRead      int64                    `json:"books_read"`
	PagesRead      int64                    `json:"pages_read"`
	Jumps          int64                    `json:"jumps"`
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print user counts and usage counters from the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			store, err := runtime.OpenStore(cfg.Storage)
			if err != nil {
				return err
			}
			defer store.Close()

			report, err := collectStats(cmd.Context(), store)
			if err != nil {
				return err
			}
			return writeStats(cmd.OutOrStdout(), rootOpts.Format, report)
		},
	}
}

func collectStats(ctx context.Context, store storage.Store) (StatsReport, error) {
	r := StatsReport{
		Users:       make(map[storage.Platform]int),
		ActiveUsers: make(map[storage.Platform]int),
	}
	for _, p := range []storage.Platform{storage.Telegram, storage.WhatsApp} {
		n, err := store.CountUsers(ctx, storage.UserFilter{Platform: p})
		if err != nil {
			return r, fmt.Errorf("count %s users: %w", p, err)
		}
		r.Users[p] = n
		n, err = store.CountUsers(ctx, storage.UserFilter{Platform: p, ActiveOnly: true})
		if err != nil {
			return r, fmt.Errorf("count active %s users: %w", p, err)
		}
		r.ActiveUsers[p] = n
	}
	s, err := store.Stats(ctx)
	if err != nil {
		return r, fmt.Errorf("read counters: %w", err)
	}
	r.InlineSearches = s.InlineSearches
	r.MsgSearches = s.MsgSearches
	r.BooksRead = s.BooksRead
	r.PagesRead = s.PagesRead
	r.Jumps = s.Jumps
	return r, nil
}

func writeStats(w io.Writer, format string, r StatsReport) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}
	for _, p := range []storage.Platform{storage.Telegram, storage.WhatsApp} {
		fmt.Fprintf(w, "users %-3s %d (%d active)\n", p, r.Users[p], r.ActiveUsers[p])
	}
	fmt.Fprintf(w, "searches  %d (%d inline, %d message)\n", r.InlineSearches+r.MsgSearches, r.InlineSearches, r.MsgSearches)
	fmt.Fprintf(w, "books     %d\n", r.BooksRead)
	fmt.Fprintf(w, "pages     %d\n", r.PagesRead)
	fmt.Fprintf(w, "jumps     %d\n", r.Jumps)
	return nil
}
