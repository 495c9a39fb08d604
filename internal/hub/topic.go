package hub

import (
	"net/url"
	"strings"
)

// TopicURL is the feed URL the hub knows a channel by.
func TopicURL(base, channelID string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base + "?channel_id=" + url.QueryEscape(channelID)
	}
	q := u.Query()
	q.Set("channel_id", channelID)
	u.RawQuery = q.Encode()
	return u.String()
}

// ChannelFromTopic extracts the channel_id query parameter from a topic URL.
func ChannelFromTopic(topic string) string {
	u, err := url.Parse(strings.TrimSpace(topic))
	if err != nil {
		return ""
	}
	return u.Query().Get("channel_id")
}
