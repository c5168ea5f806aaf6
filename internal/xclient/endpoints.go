package xclient

import (
	"encoding/json"
	"fmt"
	"net/url"
)

const graphqlBase = "https://x.com/i/api/graphql"

// bearerToken is the public token embedded in the X web app.
const bearerToken = "AAAAAAAAAAAAAAAAAAAAANRILgAAAAAAnNwIzUejRCOuH5E6I8xnZz4puTs%3D1Zv7ttfk8LF81IUq16cHjhLTvJu4FA33AGWWjCpTnA"

// Operation names double as rate-limit keys and metric labels.
const (
	OpUserByScreenName = "UserByScreenName"
	OpUserTweets       = "UserTweets"
)

type endpoint struct {
	ID   string
	Name string
}

func (e endpoint) URL(base string) string {
	return fmt.Sprintf("%s/%s/%s", base, e.ID, e.Name)
}

var endpoints = map[string]endpoint{
	OpUserByScreenName: {ID: "1VOOyvKkiI3FMmkeDNxM9A", Name: OpUserByScreenName},
	OpUserTweets:       {ID: "HeWHY26ItCfUmm1e6ITjeA", Name: OpUserTweets},
}

func features() map[string]any {
	return map[string]any{
		"creator_subscriptions_tweet_preview_api_enabled":                         true,
		"freedom_of_speech_not_reach_fetch_enabled":                               true,
		"graphql_is_translatable_rweb_tweet_is_translatable_enabled":              true,
		"longform_notetweets_consumption_enabled":                                 true,
		"longform_notetweets_inline_media_enabled":                                true,
		"longform_notetweets_rich_text_read_enabled":                              true,
		"responsive_web_edit_tweet_api_enabled":                                   true,
		"responsive_web_enhance_cards_enabled":                                    false,
		"responsive_web_graphql_exclude_directive_enabled":                        true,
		"responsive_web_graphql_skip_user_profile_image_extensions_enabled":       false,
		"responsive_web_graphql_timeline_navigation_enabled":                      true,
		"rweb_tipjar_consumption_enabled":                                         true,
		"standardized_nudges_misinfo":                                             true,
		"tweet_with_visibility_results_prefer_gql_limited_actions_policy_enabled": true,
		"verified_phone_label_enabled":                                            false,
		"view_counts_everywhere_api_enabled":                                      true,
	}
}

// graphqlURL builds the GET URL for an operation with JSON-encoded variables
// and feature flags.
func graphqlURL(base, operation string, variables map[string]any) (string, error) {
	ep, ok := endpoints[operation]
	if !ok {
		return "", fmt.Errorf("unknown operation: %s", operation)
	}
	vars, err := json.Marshal(variables)
	if err != nil {
		return "", fmt.Errorf("encode variables: %w", err)
	}
	feats, err := json.Marshal(features())
	if err != nil {
		return "", fmt.Errorf("encode features: %w", err)
	}
	q := url.Values{}
	q.Set("variables", string(vars))
	q.Set("features", string(feats))
	return ep.URL(base) + "?" + q.Encode(), nil
}
