package harvest

import (
	"strings"
	"time"
)

// TimestampLayout is the creation timestamp format used by the upstream network.
const TimestampLayout = "Mon Jan 02 15:04:05 -0700 2006"

// Identity is the cached result of resolving a handle.
type Identity struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Followers int    `json:"followers"`
}

// RawItem is one post as returned by the activity-retrieval operation.
type RawItem struct {
	Text      string
	CreatedAt string
	Likes     int
	Shares    int
	Replies   int
}

// Item is one post kept for a run, denormalized with the owner's identity.
type Item struct {
	Handle      string `json:"username"`
	DisplayName string `json:"display_name"`
	Followers   int    `json:"followers"`
	Text        string `json:"text"`
	CreatedAt   string `json:"created_at"`
	Likes       int    `json:"likes"`
	Shares      int    `json:"retweets"`
	Replies     int    `json:"replies"`
}

// Created parses CreatedAt with TimestampLayout.
func (i Item) Created() (time.Time, error) {
	return ParseTimestamp(i.CreatedAt)
}

// ParseTimestamp parses an upstream creation timestamp.
func ParseTimestamp(raw string) (time.Time, error) {
	return time.Parse(TimestampLayout, strings.TrimSpace(raw))
}

// State is a step of the per-account fetch state machine.
type State string

// Account fetch states.
const (
	StateResolving State = "resolving"
	StateFetching  State = "fetching"
	StateRetrying  State = "retrying"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Outcome is the terminal status of one account in a run.
type Outcome string

// Account outcomes. OutcomeEmpty is a success that produced no items.
const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeEmpty     Outcome = "empty"
	OutcomeFailed    Outcome = "failed"
)

// AccountResult is what a single account fetch produced.
type AccountResult struct {
	Handle      string
	Items       []Item
	Outcome     Outcome
	Attempts    int
	RateLimited int
	CacheHit    bool
	Latency     time.Duration
	Err         error
}

// Result is the full output of a harvest run.
type Result struct {
	Items    map[string][]Item
	Outcomes map[string]Outcome
	Summary  Summary
}

// TotalItems counts the items across all accounts.
func (r Result) TotalItems() int {
	n := 0
	for _, items := range r.Items {
		n += len(items)
	}
	return n
}

// ActiveAccounts counts accounts that produced at least one item.
func (r Result) ActiveAccounts() int {
	n := 0
	for _, items := range r.Items {
		if len(items) > 0 {
			n++
		}
	}
	return n
}
