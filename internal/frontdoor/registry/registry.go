// Package registry provides frontdoor factory registration and lookup.
//
// # Adding a New Frontdoor
//
// Each frontdoor package exposes an explicit registration function:
//
//	func RegisterFrontdoor() {
//	    if registry.IsRegistered(FrontdoorType) {
//	        return
//	    }
//	    registry.RegisterFactory(registry.FrontdoorFactory{
//	        Type:        FrontdoorType,
//	        Platform:    storage.Telegram,
//	        Description: "Telegram Bot API webhook",
//	        New:         New,
//	    })
//	}
//
// The parent frontdoor package calls every registration function from
// RegisterAll, so registration is explicit instead of relying on init().
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"

	"github.com/tjfontaine/hebrewbooks-bot/internal/bot"
	"github.com/tjfontaine/hebrewbooks-bot/internal/config"
	"github.com/tjfontaine/hebrewbooks-bot/internal/storage"
)

// Bot is the conversation logic a frontdoor feeds.
type Bot interface {
	HandleText(ctx context.Context, req *bot.Request) bot.Reply
	HandleCallback(ctx context.Context, req *bot.Request) bot.Reply
	HandleInline(ctx context.Context, req *bot.Request) bot.InlineAnswer
}

// HandlerConfig contains the configuration needed to create a frontdoor.
type HandlerConfig struct {
	// Platform is the platform section of the configuration
	Platform config.PlatformConfig

	// HTTPClient is used for outbound platform API calls
	HTTPClient *http.Client

	Logger *slog.Logger
}

// HandlerRegistration represents a registered HTTP handler.
type HandlerRegistration struct {
	Path    string
	Method  string
	Handler func(http.ResponseWriter, *http.Request)
}

// Frontdoor receives a platform's webhooks and talks to its API. As a
// bot.Sender it delivers broadcasts.
type Frontdoor interface {
	bot.Sender

	// Handlers returns the webhook routes feeding b.
	Handlers(b Bot) []HandlerRegistration
}

// FrontdoorFactory defines how to create a frontdoor for one platform.
type FrontdoorFactory struct {
	// Type is the frontdoor type identifier used in configuration
	// (e.g., "telegram", "whatsapp")
	Type string

	// Platform is the user namespace of this frontdoor
	Platform storage.Platform

	// Description provides a human-readable description of the frontdoor
	Description string

	// New creates the frontdoor from its configuration section.
	New func(cfg HandlerConfig) (Frontdoor, error)
}

// frontdoorRegistry holds registered frontdoor factories
var (
	frontdoorMu   sync.RWMutex
	frontdoorMap  = make(map[string]FrontdoorFactory)
	frontdoorList []FrontdoorFactory
)

// RegisterFactory registers a frontdoor factory for a specific type.
// Panics if a factory with the same type is already registered.
func RegisterFactory(f FrontdoorFactory) {
	frontdoorMu.Lock()
	defer frontdoorMu.Unlock()

	if f.Type == "" {
		panic("frontdoor factory type cannot be empty")
	}
	if f.New == nil {
		panic(fmt.Sprintf("frontdoor factory %q must have a New function", f.Type))
	}

	if _, exists := frontdoorMap[f.Type]; exists {
		panic(fmt.Sprintf("frontdoor factory %q already registered", f.Type))
	}

	frontdoorMap[f.Type] = f
	frontdoorList = append(frontdoorList, f)
}

// GetFactory returns the factory for a frontdoor type, if registered.
func GetFactory(frontdoorType string) (FrontdoorFactory, bool) {
	frontdoorMu.RLock()
	defer frontdoorMu.RUnlock()

	f, ok := frontdoorMap[frontdoorType]
	return f, ok
}

// ListFactories returns all registered frontdoor factories sorted by type.
func ListFactories() []FrontdoorFactory {
	frontdoorMu.RLock()
	defer frontdoorMu.RUnlock()

	result := make([]FrontdoorFactory, len(frontdoorList))
	copy(result, frontdoorList)
	sort.Slice(result, func(i, j int) bool {
		return result[i].Type < result[j].Type
	})
	return result
}

// ListFrontdoorTypes returns all registered frontdoor type names.
func ListFrontdoorTypes() []string {
	factories := ListFactories()
	types := make([]string, len(factories))
	for i, f := range factories {
		types[i] = f.Type
	}
	return types
}

// IsRegistered returns true if a frontdoor type is registered.
func IsRegistered(frontdoorType string) bool {
	_, ok := GetFactory(frontdoorType)
	return ok
}

// CreateFromFactory creates a frontdoor using the registered factory.
func CreateFromFactory(frontdoorType string, cfg HandlerConfig) (Frontdoor, error) {
	f, ok := GetFactory(frontdoorType)
	if !ok {
		return nil, fmt.Errorf("unknown frontdoor type: %s (registered types: %v)", frontdoorType, ListFrontdoorTypes())
	}

	return f.New(cfg)
}

// ClearFactories removes all registered factories (for testing only).
func ClearFactories() {
	frontdoorMu.Lock()
	defer frontdoorMu.Unlock()

	frontdoorMap = make(map[string]FrontdoorFactory)
	frontdoorList = nil
}
