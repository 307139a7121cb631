// Package frontdoor contains the frontdoor factory and registry for messaging
// platform webhooks.
//
// # Adding a New Frontdoor
//
// Implement registry.Frontdoor in a subpackage and expose an explicit
// registration function that calls registry.RegisterFactory. Wire that
// function from registration.RegisterBuiltins so registration is explicit
// instead of relying on init() side effects.
package frontdoor

import (
	"github.com/tjfontaine/hebrewbooks-bot/internal/frontdoor/registry"
)

// Re-export types from registry for convenience
type (
	Bot                 = registry.Bot
	Frontdoor           = registry.Frontdoor
	FrontdoorFactory    = registry.FrontdoorFactory
	HandlerConfig       = registry.HandlerConfig
	HandlerRegistration = registry.HandlerRegistration
)

// RegisterFactory registers a frontdoor factory (delegated to registry).
var RegisterFactory = registry.RegisterFactory

// GetFactory returns the factory for a frontdoor type (delegated to registry).
var GetFactory = registry.GetFactory

// ListFactories returns all registered frontdoor factories (delegated to registry).
var ListFactories = registry.ListFactories

// ListFrontdoorTypes returns all registered frontdoor type names (delegated to registry).
var ListFrontdoorTypes = registry.ListFrontdoorTypes

// IsRegistered returns true if a frontdoor type is registered (delegated to registry).
var IsRegistered = registry.IsRegistered

// ClearFactories removes all registered factories (for testing only).
var ClearFactories = registry.ClearFactories
