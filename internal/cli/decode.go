package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/hebrewbooks-bot/internal/bot"
)

// Crumb is one decoded navigation token.
type Crumb struct {
	Tag    string            `json:"tag"`
	Fields map[string]string `json:"fields,omitempty"`
	order  []string
}

// NewDecodeCommand creates the decode command.
func NewDecodeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "decode <button-data>",
		Short: "Explain the navigation chain carried by a button",
		Long: `Decode button data the way the bot would route it. Every breadcrumb
of the chain is printed, innermost first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b := bot.New(bot.Deps{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
			crumbs, err := decodeChain(b, args[0])
			if err != nil {
				return err
			}
			return writeCrumbs(cmd.OutOrStdout(), rootOpts.Format, crumbs)
		},
	}
}

// decodeChain decodes every crumb of data.
func decodeChain(b *bot.Bot, data string) ([]Crumb, error) {
	var out []Crumb
	for data != "" {
		tag, fields, rest, err := b.Describe(data)
		if err != nil {
			return out, fmt.Errorf("decode %q: %w", data, err)
		}
		c := Crumb{Tag: tag, Fields: make(map[string]string, len(fields))}
		for _, f := range fields {
			c.Fields[f[0]] = f[1]
			c.order = append(c.order, f[0])
		}
		out = append(out, c)
		data = rest
	}
	return out, nil
}

func writeCrumbs(w io.Writer, format string, crumbs []Crumb) error {
	if format == "json" {
		return json.NewEncoder(w).Encode(crumbs)
	}
	for i, c := range crumbs {
		fmt.Fprintf(w, "%d %s", i, c.Tag)
		for _, name := range c.order {
			fmt.Fprintf(w, " %s=%q", name, c.Fields[name])
		}
		fmt.Fprintln(w)
	}
	return nil
}
