// Package report assembles the per-run report envelope and persists it to a
// blob store.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/JakeFAU/tech-intel-harvester/internal/harvest"
)

var (
	// ErrNotFound is returned for unknown report IDs.
	ErrNotFound = errors.New("report not found")
	// ErrInvalidID is returned by Save and Delete for malformed IDs.
	ErrInvalidID = errors.New("invalid report id")
)

// DefaultListLimit is how many reports List returns when no limit is given.
const DefaultListLimit = 20

const defaultTitle = "Daily Intel Report"

var idPattern = regexp.MustCompile(`^[0-9]{8}_[0-9]{6}_[0-9a-f]{6}$`)

// Report is the stored envelope. Summary is the summarizer's output: embedded
// as-is when it is JSON, otherwise as a string.
type Report struct {
	ID            string          `json:"id"`
	GeneratedAt   time.Time       `json:"generated_at"`
	TotalPosts    int             `json:"total_posts"`
	TotalAccounts int             `json:"total_accounts"`
	Summary       json.RawMessage `json:"summary"`
	Stats         harvest.Summary `json:"stats"`
}

// Build assembles a report from a harvest result. TotalAccounts counts
// accounts that produced at least one post.
func Build(id string, generatedAt time.Time, res harvest.Result, summary string) Report {
	return Report{
		ID:            id,
		GeneratedAt:   generatedAt.UTC(),
		TotalPosts:    res.TotalItems(),
		TotalAccounts: res.ActiveAccounts(),
		Summary:       encodeSummary(summary),
		Stats:         res.Summary,
	}
}

func encodeSummary(summary string) json.RawMessage {
	trimmed := strings.TrimSpace(summary)
	if strings.HasPrefix(trimmed, "{") && json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	encoded, _ := json.Marshal(summary)
	return encoded
}

// BlobStore is the subset of the blob backends the report store needs.
// Missing objects wrap os.ErrNotExist.
type BlobStore interface {
	PutObject(ctx context.Context, path, contentType string, r io.Reader) (string, error)
	GetObject(ctx context.Context, path string) ([]byte, error)
	ListObjects(ctx context.Context, prefix string) ([]string, error)
	DeleteObject(ctx context.Context, path string) error
}

// Entry is the listing view of a stored report.
type Entry struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Date          string    `json:"date"`
	GeneratedAt   time.Time `json:"generated_at"`
	TotalPosts    int       `json:"total_posts"`
	TotalAccounts int       `json:"total_accounts"`
}

// Title returns the summary's "title" field, or a generic title when the
// summary is plain text or has none.
func (r Report) Title() string {
	var fields struct {
		Title string `json:"title"`
	}
	if json.Unmarshal(r.Summary, &fields) == nil && strings.TrimSpace(fields.Title) != "" {
		return fields.Title
	}
	return defaultTitle
}

func (r Report) entry() Entry {
	return Entry{
		ID:            r.ID,
		Title:         r.Title(),
		Date:          r.GeneratedAt.UTC().Format("2006-01-02"),
		GeneratedAt:   r.GeneratedAt,
		TotalPosts:    r.TotalPosts,
		TotalAccounts: r.TotalAccounts,
	}
}

// Store reads and writes reports under a key prefix.
type Store struct {
	blobs  BlobStore
	prefix string
}

// NewStore wraps a blob store.
func NewStore(blobs BlobStore, prefix string) *Store {
	return &Store{blobs: blobs, prefix: strings.Trim(prefix, "/")}
}

// Path returns the object key for a report ID.
func (s *Store) Path(id string) string {
	if s.prefix == "" {
		return id + ".json"
	}
	return path.Join(s.prefix, id+".json")
}

// Save writes the report as indented JSON and returns the backend URI.
func (s *Store) Save(ctx context.Context, r Report) (string, error) {
	if !ValidID(r.ID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, r.ID)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}
	uri, err := s.blobs.PutObject(ctx, s.Path(r.ID), "application/json", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("save report %s: %w", r.ID, err)
	}
	return uri, nil
}

// Load reads a report back by ID.
func (s *Store) Load(ctx context.Context, id string) (Report, error) {
	if !ValidID(id) {
		return Report{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	data, err := s.blobs.GetObject(ctx, s.Path(id))
	if errors.Is(err, os.ErrNotExist) {
		return Report{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Report{}, fmt.Errorf("load report %s: %w", id, err)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return Report{}, fmt.Errorf("decode report %s: %w", id, err)
	}
	return r, nil
}

// IDs returns every stored report ID, newest first. IDs start with their
// generation time, so lexical order is chronological.
func (s *Store) IDs(ctx context.Context) ([]string, error) {
	prefix := ""
	if s.prefix != "" {
		prefix = s.prefix + "/"
	}
	paths, err := s.blobs.ListObjects(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	ids := make([]string, 0, len(paths))
	for _, p := range paths {
		rest := strings.TrimPrefix(p, prefix)
		id, ok := strings.CutSuffix(rest, ".json")
		if ok && ValidID(id) {
			ids = append(ids, id)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	return ids, nil
}

// List returns up to limit reports, newest first. Reports that can no
// longer be read are skipped.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	ids, err := s.IDs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, min(limit, len(ids)))
	for _, id := range ids {
		if len(out) == limit {
			break
		}
		r, err := s.Load(ctx, id)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			continue
		}
		out = append(out, r.entry())
	}
	return out, nil
}

// Latest loads the newest readable report.
func (s *Store) Latest(ctx context.Context) (Report, error) {
	ids, err := s.IDs(ctx)
	if err != nil {
		return Report{}, err
	}
	for _, id := range ids {
		r, err := s.Load(ctx, id)
		if err == nil {
			return r, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Report{}, ctxErr
		}
	}
	return Report{}, ErrNotFound
}

// Delete removes a stored report.
func (s *Store) Delete(ctx context.Context, id string) error {
	if !ValidID(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	err := s.blobs.DeleteObject(ctx, s.Path(id))
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("delete report %s: %w", id, err)
	}
	return nil
}

// ValidID reports whether id has the YYYYmmdd_HHMMSS_xxxxxx shape.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}
