package registration

import (
	"github.com/tjfontaine/hebrewbooks-bot/internal/frontdoor/telegram"
	"github.com/tjfontaine/hebrewbooks-bot/internal/frontdoor/whatsapp"
)

// RegisterBuiltins registers the built-in frontdoors explicitly. This
// replaces init-based side effects and is intended to be called from
// cmd/hbbot and tests before wiring registries.
func RegisterBuiltins() {
	RegisterFrontdoorBuiltins()
}

// RegisterFrontdoorBuiltins registers built-in frontdoors only.
func RegisterFrontdoorBuiltins() {
	telegram.RegisterFrontdoor()
	whatsapp.RegisterFrontdoor()
}
