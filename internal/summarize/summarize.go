// Package summarize turns a run's harvested posts into an opaque report
// summary.
package summarize

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/JakeFAU/tech-intel-harvester/internal/harvest"
)

// ErrNoItems is returned when there is nothing to summarize.
var ErrNoItems = errors.New("no posts collected, nothing to summarize")

const (
	maxPostChars  = 280
	maxPosts      = 80
	maxPromptBody = 60_000
)

// Engagement weights shares three times as heavily as likes.
func Engagement(item harvest.Item) int {
	return item.Likes + 3*item.Shares
}

// Rank flattens the per-account map and orders posts by engagement, most
// engaging first. Ties keep handle order so output is deterministic.
func Rank(items map[string][]harvest.Item) []harvest.Item {
	handles := make([]string, 0, len(items))
	for h := range items {
		handles = append(handles, h)
	}
	sort.Strings(handles)

	var all []harvest.Item
	for _, h := range handles {
		all = append(all, items[h]...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return Engagement(all[i]) > Engagement(all[j])
	})
	return all
}

// renderPosts formats up to limit posts, stopping before the body exceeds
// budget characters. It returns the text and how many posts were used.
func renderPosts(posts []harvest.Item, limit, budget int) (string, int) {
	var (
		b    strings.Builder
		used int
	)
	for _, p := range posts {
		if used == limit {
			break
		}
		text := p.Text
		if r := []rune(text); len(r) > maxPostChars {
			text = string(r[:maxPostChars])
		}
		block := fmt.Sprintf("@%s (%d followers)\nlikes %d  shares %d  replies %d\n%s",
			p.Handle, p.Followers, p.Likes, p.Shares, p.Replies, text)
		sep := 0
		if used > 0 {
			sep = 2
		}
		if b.Len()+sep+len(block) > budget {
			break
		}
		if sep > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(block)
		used++
	}
	return b.String(), used
}

func totalItems(items map[string][]harvest.Item) int {
	n := 0
	for _, list := range items {
		n += len(list)
	}
	return n
}
