// Package harvest fetches recent activity for a roster of accounts.
//
// A Harvester admits at most Options.Concurrency account workers at once.
// Each worker resolves the handle to an identity (served from the
// IdentityCache when possible), fetches recent items, keeps those created
// inside the window, and retries transient failures with full-jitter
// exponential backoff. Per-account failures never escape a worker: the
// account maps to an empty list and is counted in the run Summary.
package harvest
