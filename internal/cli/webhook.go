package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/hebrewbooks-bot/internal/frontdoor"
	"github.com/tjfontaine/hebrewbooks-bot/internal/registration"
)

// webhookSetter is implemented by frontdoors whose webhook is registered
// through their API.
type webhookSetter interface {
	SetWebhook(ctx context.Context, url string) error
}

// NewWebhookCommand creates the webhook command.
func NewWebhookCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "webhook <public-base-url>",
		Short: "Point the enabled platforms at this server",
		Long: `Register <public-base-url> plus each platform's path as its webhook.
WhatsApp webhooks are configured in the Meta app dashboard; for it the
command only prints the URL and verify token to enter there.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			registration.RegisterBuiltins()
			built, err := frontdoor.NewRegistry(nil, nil).Create(cfg.Platforms())
			if err != nil {
				return err
			}
			if len(built) == 0 {
				return fmt.Errorf("no platform enabled")
			}

			base := strings.TrimRight(args[0], "/")
			platforms := cfg.Platforms()
			out := cmd.OutOrStdout()
			for _, b := range built {
				url := base + platforms[b.Type].Path
				setter, ok := b.Frontdoor.(webhookSetter)
				if !ok {
					fmt.Fprintf(out, "%s: configure %s (verify token %q) in the platform dashboard\n",
						b.Type, url, platforms[b.Type].VerifyToken)
					continue
				}
				if err := setter.SetWebhook(cmd.Context(), url); err != nil {
					return fmt.Errorf("%s: %w", b.Type, err)
				}
				fmt.Fprintf(out, "%s: webhook set to %s\n", b.Type, url)
			}
			return nil
		},
	}
}
