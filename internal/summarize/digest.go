package summarize

import (
	"context"
	"fmt"
	"strings"

	"github.com/JakeFAU/tech-intel-harvester/internal/harvest"
)

// Digest summarizes without a model: a plain-text list of the most
// engaging posts.
type Digest struct {
	// Top caps how many posts are listed. Zero means 10.
	Top int
}

// Summarize implements Summarizer.
func (d Digest) Summarize(ctx context.Context, items map[string][]harvest.Item) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	total := totalItems(items)
	if total == 0 {
		return "", ErrNoItems
	}
	top := d.Top
	if top <= 0 {
		top = 10
	}

	active := 0
	for _, list := range items {
		if len(list) > 0 {
			active++
		}
	}

	posts, _ := renderPosts(Rank(items), top, maxPromptBody)
	var b strings.Builder
	fmt.Fprintf(&b, "%d posts from %d active accounts.\n\n", total, active)
	b.WriteString(posts)
	return b.String(), nil
}
