package xclient

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const userFixture = `{"data":{"user":{"result":{"__typename":"User","rest_id":"42","legacy":{"name":"Bob","screen_name":"bob","followers_count":1200}}}}}`

const timelineV2Fixture = `{"data":{"user":{"result":{"timeline_v2":{"timeline":{"instructions":[
 {"type":"TimelineClearCache"},
 {"type":"TimelinePinEntry","entry":{"entryId":"tweet-9","content":{"entryType":"TimelineTimelineItem","itemContent":{"__typename":"TimelineTweet","tweet_results":{"result":{"__typename":"Tweet","rest_id":"9","legacy":{"full_text":"pinned","created_at":"Mon Oct 19 08:00:00 +0000 2026","favorite_count":5,"retweet_count":1,"reply_count":0}}}}}}},
 {"type":"TimelineAddEntries","entries":[
  {"entryId":"tweet-1","content":{"entryType":"TimelineTimelineItem","itemContent":{"__typename":"TimelineTweet","tweet_results":{"result":{"__typename":"Tweet","rest_id":"1","legacy":{"full_text":"hello","created_at":"Mon Oct 19 10:00:00 +0000 2026","favorite_count":10,"retweet_count":2,"reply_count":3}}}}}},
  {"entryId":"tweet-2","content":{"entryType":"TimelineTimelineItem","itemContent":{"__typename":"TimelineTweet","tweet_results":{"result":{"__typename":"TweetWithVisibilityResults","tweet":{"rest_id":"2","legacy":{"full_text":"limited","created_at":"Mon Oct 19 09:00:00 +0000 2026","favorite_count":1,"retweet_count":0,"reply_count":0}}}}}}},
  {"entryId":"tweet-1-dup","content":{"entryType":"TimelineTimelineItem","itemContent":{"__typename":"TimelineTweet","tweet_results":{"result":{"__typename":"Tweet","rest_id":"1","legacy":{"full_text":"hello","created_at":"Mon Oct 19 10:00:00 +0000 2026"}}}}}},
  {"entryId":"cursor-bottom-1","content":{"entryType":"TimelineTimelineCursor","value":"abc","cursorType":"Bottom"}}
 ]}
]}}}}}}`

func TestParseUser(t *testing.T) {
	t.Parallel()

	id, err := parseUser([]byte(userFixture))
	require.NoError(t, err)
	require.Equal(t, "42", id.ID)
	require.Equal(t, "Bob", id.Name)
	require.Equal(t, 1200, id.Followers)
}

func TestParseUserUnavailable(t *testing.T) {
	t.Parallel()

	for _, body := range []string{
		`{"data":{"user":{"result":{"__typename":"UserUnavailable"}}}}`,
		`{"data":{}}`,
	} {
		_, err := parseUser([]byte(body))
		require.ErrorIs(t, err, ErrUserUnavailable)
	}

	_, err := parseUser([]byte(`not json`))
	require.Error(t, err)
}

func TestParseTweetsTimelineV2(t *testing.T) {
	t.Parallel()

	items, err := parseTweets([]byte(timelineV2Fixture), 0)
	require.NoError(t, err)
	require.Len(t, items, 3)
	require.Equal(t, "pinned", items[0].Text)
	require.Equal(t, "hello", items[1].Text)
	require.Equal(t, 10, items[1].Likes)
	require.Equal(t, 2, items[1].Shares)
	require.Equal(t, 3, items[1].Replies)
	require.Equal(t, "Mon Oct 19 10:00:00 +0000 2026", items[1].CreatedAt)
	require.Equal(t, "limited", items[2].Text)
}

func TestParseTweetsLimitAndLegacyShape(t *testing.T) {
	t.Parallel()

	body := `{"data":{"user":{"result":{"timeline":{"timeline":{"instructions":[{"type":"TimelineAddEntries","entries":[
 {"entryId":"a","content":{"itemContent":{"__typename":"TimelineTweet","tweet_results":{"result":{"rest_id":"1","legacy":{"full_text":"one"}}}}}},
 {"entryId":"b","content":{"itemContent":{"__typename":"TimelineTweet","tweet_results":{"result":{"rest_id":"2","legacy":{"full_text":"two"}}}}}},
 {"entryId":"c","content":{"items":[{"item":{"itemContent":{"__typename":"TimelineTweet","tweet_results":{"result":{"rest_id":"3","legacy":{"full_text":"three"}}}}}}]}}
]}]}}}}}}`

	items, err := parseTweets([]byte(body), 2)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "one", items[0].Text)

	all, err := parseTweets([]byte(body), 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "three", all[2].Text)
}

func TestParseTweetsEmptyTimeline(t *testing.T) {
	t.Parallel()

	items, err := parseTweets([]byte(`{"data":{"user":{"result":{}}}}`), 5)
	require.NoError(t, err)
	require.NotNil(t, items)
	require.Empty(t, items)
}

func TestAPIError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		code int
		nilE bool
	}{
		{name: "no errors", body: userFixture, nilE: true},
		{name: "rate limit", body: `{"errors":[{"code":88,"message":"Rate limit exceeded"}]}`, code: 88},
		{name: "auth expired", body: `{"errors":[{"code":32,"message":"Could not authenticate you"}]}`, code: 32},
		{name: "internal with data", body: `{"data":{"user":{}},"errors":[{"code":131,"message":"internal"}]}`, nilE: true},
		{name: "internal without data", body: `{"errors":[{"code":131,"message":"internal"}]}`, code: 131},
		{name: "not json", body: `<html>`, nilE: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := apiError("Op", []byte(tt.body))
			if tt.nilE {
				require.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			require.Equal(t, tt.code, got.Code)
		})
	}
}
