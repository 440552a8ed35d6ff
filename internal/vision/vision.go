// Package vision is the screen-inspection collaborator: template search and
// OCR over emulator screenshots.
//
// Matching and OCR internals live in an external CV sidecar; this package
// only defines the contract and a thin client. Both calls are pure queries:
// no side effects on the emulator beyond taking screenshots, though they may
// retry and sleep internally.
package vision

import (
	"context"
	"time"

	"siegebot/internal/emulator"
)

// Rect is a screen region in absolute pixels. A zero Rect means "whole screen".
type Rect struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
}

func (r Rect) IsZero() bool {
	return r.Left == 0 && r.Top == 0 && r.Right == 0 && r.Bottom == 0
}

// Match is the result of one template search.
type Match struct {
	Found bool           `json:"found"`
	At    emulator.Point `json:"at"`
	Score float64        `json:"score"`
}

// FindOpts bounds one template search. A search runs up to MaxAttempts
// screenshot+match rounds with Delay between rounds, returning the first hit.
type FindOpts struct {
	Threshold   float64 // minimum match score; 0 uses the sidecar default
	MaxAttempts int     // 0 means 1
	Delay       time.Duration
}

type OCROpts struct {
	// Numeric restricts recognition to digits (stamina, ticket counters).
	Numeric bool
	// Whitelist restricts recognition to the given characters.
	Whitelist string
}

// Client is the vision collaborator consumed by tasks.
type Client interface {
	// FindTemplate searches for a named template inside area.
	// Not finding the template is not an error: check Match.Found.
	FindTemplate(ctx context.Context, id string, area Rect, opts FindOpts) (Match, error)

	// ReadText OCRs the given area. An empty string with nil error means the
	// area held no recognizable text.
	ReadText(ctx context.Context, area Rect, opts OCROpts) (string, error)
}
