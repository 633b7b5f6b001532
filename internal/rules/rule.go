// Package rules implements Weaver's Rule Engine: a trigger-keyed
// registry of automations dispatched on vault events, grounded on the
// teacher's registry-style extension idiom (no inheritance; extension
// by registration, removal by id) per spec.md §9's "dynamic dispatch on
// rules and tools" design note.
package rules

import (
	"context"
	"time"

	"github.com/weaver-md/weaver/internal/llm"
	"github.com/weaver-md/weaver/internal/vault/cache"
)

// Trigger is the event kind a Rule matches against.
type Trigger string

const (
	TriggerFileAdd    Trigger = "file:add"
	TriggerFileChange Trigger = "file:change"
	TriggerFileDelete Trigger = "file:delete"
	TriggerSchedule   Trigger = "schedule"
)

// Event is the originating occurrence passed to a rule's guard and
// action, carrying the relevant file record (if any) and arbitrary
// metadata as spec.md §4.6 requires.
type Event struct {
	Trigger  Trigger
	Path     string
	File     *cache.FileRecord
	Metadata map[string]any
	At       time.Time
}

// LLMClient is the subset of *llm.Client rule actions depend on,
// accepted as an interface so built-in rules are testable against a
// fake without a live Anthropic connection.
type LLMClient interface {
	SendMessage(ctx context.Context, prompt string, opts llm.Options) (*llm.Result, error)
}

// Context is what every guard and action receives: the event plus
// shared singletons, so rules never reach for global state directly.
type Context struct {
	Event Event
	LLM   LLMClient
	Cache *cache.ShadowCache
}

// GuardFunc decides whether a matching rule's action should run. A nil
// Guard always passes.
type GuardFunc func(ctx context.Context, rc Context) (bool, error)

// ActionFunc performs a rule's effect. Its error (or panic) is isolated
// per spec.md §4.6 — it never reaches another rule or the event source.
type ActionFunc func(ctx context.Context, rc Context) error

// Rule is one registry entry: a trigger, an optional guard, an action,
// a dispatch priority, and an enabled flag.
type Rule struct {
	ID       string
	Trigger  Trigger
	Guard    GuardFunc
	Action   ActionFunc
	Priority int
	Enabled  bool
}
