// Package token tracks cacheable units of rendered output through their
// status lifecycle and persists them across restarts.
package token

import (
	"fmt"
	"path/filepath"
	"time"
)

// Status is the lifecycle state of a Token.
type Status string

const (
	// StatusPending means the token has never rendered, or its previous
	// output was invalidated and a fresh render may be requested.
	StatusPending Status = "pending"
	// StatusRendering means the invoker currently has a live subprocess
	// for this token.
	StatusRendering Status = "rendering"
	// StatusReady means a render completed and its first frame exists on
	// disk.
	StatusReady Status = "ready"
	// StatusDirty means the cached output is stale or the last render
	// attempt failed; eligible for re-render.
	StatusDirty Status = "dirty"
	// StatusSwapped means the cached output has been substituted into the
	// consuming context in place of the original source.
	StatusSwapped Status = "swapped"
	// StatusError marks a token whose descriptor itself is unusable.
	StatusError Status = "error"
)

// Valid reports whether s is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRendering, StatusReady, StatusDirty, StatusSwapped, StatusError:
		return true
	}
	return false
}

// Renderable reports whether a token in this state may be enqueued for a
// fresh render. pending, dirty and error are equivalent starting points.
func (s Status) Renderable() bool {
	return s == StatusPending || s == StatusDirty || s == StatusError
}

// Token represents one cacheable unit of rendered output. Tokens are owned
// exclusively by the Store; other components receive copies and report
// changes back through the Store's mutation methods.
type Token struct {
	TokenID string `json:"tokenId"`
	Hash    string `json:"hash"`

	// Descriptive attributes captured at creation, used only for render
	// invocation, never mutated afterward except by re-tokenization.
	Name      string  `json:"name"`
	LayerRef  string  `json:"layerRef,omitempty"`
	FrameRate float64 `json:"frameRate,omitempty"`
	Duration  float64 `json:"duration,omitempty"`
	Width     int     `json:"width,omitempty"`
	Height    int     `json:"height,omitempty"`

	Status Status `json:"status"`

	// RenderPath is the directory holding rendered frames; FirstFrame is
	// the frame file consumers substitute in.
	RenderPath string `json:"renderPath,omitempty"`
	FirstFrame string `json:"firstFrame,omitempty"`

	// Error carries the message of the last failed render. The token is
	// the error-reporting mechanism: there is no separate channel.
	Error     string `json:"error,omitempty"`
	Cancelled bool   `json:"cancelled,omitempty"`

	// RenderSeconds is how long the last successful render took.
	RenderSeconds float64    `json:"renderSeconds,omitempty"`
	FailedAt      *time.Time `json:"failedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Descriptor is the content summary a caller submits to create a Token.
type Descriptor struct {
	Name      string      `json:"name"`
	LayerRef  string      `json:"layerRef,omitempty"`
	FrameRate float64     `json:"frameRate,omitempty"`
	Duration  float64     `json:"duration,omitempty"`
	Width     int         `json:"width,omitempty"`
	Height    int         `json:"height,omitempty"`
	Summary   interface{} `json:"summary"`
}

// ID derives the token identifier from the human-readable name and the
// content fingerprint, e.g. "BG_3fa91c22".
func ID(name, fingerprint string) string {
	return fmt.Sprintf("%s_%s", name, fingerprint)
}

// RenderDir returns the directory all frames for a token land in,
// deterministically derived from the token identifier.
func RenderDir(cacheDir, tokenID string) string {
	return filepath.Join(cacheDir, "renders", tokenID)
}

// FirstFramePath returns the canonical path of the first rendered frame for
// a token in the given output format.
func FirstFramePath(cacheDir, tokenID, format string) string {
	return filepath.Join(RenderDir(cacheDir, tokenID), fmt.Sprintf("%s_00000.%s", tokenID, format))
}

// clone returns a copy the caller may hold without racing the store.
func (t *Token) clone() *Token {
	copied := *t
	if t.FailedAt != nil {
		failedAt := *t.FailedAt
		copied.FailedAt = &failedAt
	}
	return &copied
}

// EventType distinguishes store notifications.
type EventType int

const (
	EventCreated EventType = iota
	EventUpdated
)

// Event is published to store watchers on every token mutation.
type Event struct {
	Type      EventType `json:"type"`
	Token     *Token    `json:"token"`
	Timestamp time.Time `json:"timestamp"`
}
