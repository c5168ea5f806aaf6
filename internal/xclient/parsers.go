package xclient

import (
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/tech-intel-harvester/internal/harvest"
)

type timeline struct {
	Instructions []struct {
		Type    string          `json:"type"`
		Entries []timelineEntry `json:"entries"`
		Entry   *timelineEntry  `json:"entry"`
	} `json:"instructions"`
}

type timelineEntry struct {
	EntryID string `json:"entryId"`
	Content struct {
		EntryType   string          `json:"entryType"`
		ItemContent json.RawMessage `json:"itemContent"`
		Items       []struct {
			Item struct {
				ItemContent json.RawMessage `json:"itemContent"`
			} `json:"item"`
		} `json:"items"`
	} `json:"content"`
}

type userResult struct {
	TypeName string `json:"__typename"`
	RestID   string `json:"rest_id"`
	Core     struct {
		Name       string `json:"name"`
		ScreenName string `json:"screen_name"`
	} `json:"core"`
	Legacy struct {
		Name           string `json:"name"`
		ScreenName     string `json:"screen_name"`
		FollowersCount int    `json:"followers_count"`
	} `json:"legacy"`
}

type tweetLegacy struct {
	FullText      string `json:"full_text"`
	CreatedAt     string `json:"created_at"`
	FavoriteCount int    `json:"favorite_count"`
	RetweetCount  int    `json:"retweet_count"`
	ReplyCount    int    `json:"reply_count"`
}

type tweetResult struct {
	TypeName string       `json:"__typename"`
	RestID   string       `json:"rest_id"`
	Legacy   *tweetLegacy `json:"legacy"`
	// TweetWithVisibilityResults wraps the real tweet one level down.
	Tweet *tweetResult `json:"tweet"`
}

func (r *tweetResult) unwrap() *tweetResult {
	if r.TypeName == "TweetWithVisibilityResults" && r.Tweet != nil {
		return r.Tweet
	}
	return r
}

func parseUser(body []byte) (harvest.Identity, error) {
	var raw struct {
		Data struct {
			User struct {
				Result *userResult `json:"result"`
			} `json:"user"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return harvest.Identity{}, fmt.Errorf("decode %s: %w", OpUserByScreenName, err)
	}
	r := raw.Data.User.Result
	if r == nil || r.TypeName == "UserUnavailable" || r.RestID == "" {
		return harvest.Identity{}, ErrUserUnavailable
	}
	name := r.Legacy.Name
	if name == "" {
		name = r.Core.Name
	}
	return harvest.Identity{
		ID:        r.RestID,
		Name:      name,
		Followers: r.Legacy.FollowersCount,
	}, nil
}

func parseTweets(body []byte, limit int) ([]harvest.RawItem, error) {
	var raw struct {
		Data struct {
			User struct {
				Result struct {
					Timeline struct {
						Timeline timeline `json:"timeline"`
					} `json:"timeline"`
					TimelineV2 struct {
						Timeline timeline `json:"timeline"`
					} `json:"timeline_v2"`
				} `json:"result"`
			} `json:"user"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode %s: %w", OpUserTweets, err)
	}
	tl := raw.Data.User.Result.Timeline.Timeline
	if len(tl.Instructions) == 0 {
		tl = raw.Data.User.Result.TimelineV2.Timeline
	}

	items := []harvest.RawItem{}
	seen := make(map[string]struct{})
	add := func(content json.RawMessage) {
		if limit > 0 && len(items) >= limit {
			return
		}
		item, id, ok := decodeTweet(content)
		if !ok {
			return
		}
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		items = append(items, item)
	}
	for _, ins := range tl.Instructions {
		entries := ins.Entries
		if ins.Entry != nil {
			entries = append(entries, *ins.Entry)
		}
		for _, entry := range entries {
			if len(entry.Content.ItemContent) > 0 {
				add(entry.Content.ItemContent)
			}
			for _, nested := range entry.Content.Items {
				add(nested.Item.ItemContent)
			}
		}
	}
	return items, nil
}

func decodeTweet(content json.RawMessage) (harvest.RawItem, string, bool) {
	if len(content) == 0 {
		return harvest.RawItem{}, "", false
	}
	var item struct {
		TypeName     string `json:"__typename"`
		TweetResults struct {
			Result *tweetResult `json:"result"`
		} `json:"tweet_results"`
	}
	if err := json.Unmarshal(content, &item); err != nil || item.TypeName != "TimelineTweet" {
		return harvest.RawItem{}, "", false
	}
	if item.TweetResults.Result == nil {
		return harvest.RawItem{}, "", false
	}
	t := item.TweetResults.Result.unwrap()
	if t.RestID == "" || t.Legacy == nil {
		return harvest.RawItem{}, "", false
	}
	return harvest.RawItem{
		Text:      t.Legacy.FullText,
		CreatedAt: t.Legacy.CreatedAt,
		Likes:     t.Legacy.FavoriteCount,
		Shares:    t.Legacy.RetweetCount,
		Replies:   t.Legacy.ReplyCount,
	}, t.RestID, true
}
