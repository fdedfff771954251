// Package pubsub implements the publish fan-out channel: a subscriber
// client that decodes framed publish messages and dispatches them to
// callbacks, and a publish server that bridges a producer-facing ingress
// socket to a topic-filtered fan-out socket.
package pubsub

import (
	"crypto/sha1"
	"encoding/hex"

	"github.com/tenzoki/zmesh/internal/wireerr"
)

const (
	topicBroadcast = "broadcast"
	topicSyndic    = "syndic"
	roleSyndic     = "syndic"
)

// TopicHash returns the lowercase hex SHA-1 digest of a subscriber
// identity string, used as that subscriber's topic filter value.
func TopicHash(identity string) string {
	sum := sha1.Sum([]byte(identity))
	return hex.EncodeToString(sum[:])
}

// SubscriptionTopics returns the set of topic prefixes a subscriber with
// the given filtering mode, role, and identity should subscribe to. A nil
// slice with unfiltered=true means "subscribe to everything" (unfiltered
// mode).
func SubscriptionTopics(filtering bool, role, identity string) (topics []string, unfiltered bool) {
	if !filtering {
		return nil, true
	}
	topics = []string{topicBroadcast}
	if role == roleSyndic {
		topics = append(topics, topicSyndic)
	} else {
		topics = append(topics, TopicHash(identity))
	}
	return topics, false
}

// Accepts reports whether a received topic should be delivered to a
// subscriber with the given role and identity, per spec.md §3's filtering
// rule: broadcast always matches, syndics match on the syndic topic, and
// everyone else matches only their own topic hash.
func Accepts(topic, role, identity string) bool {
	if topic == topicBroadcast {
		return true
	}
	if role == roleSyndic {
		return topic == topicSyndic
	}
	return topic == TopicHash(identity)
}

// DecodePublishMessage dispatches on frame count: a single frame is the
// legacy unfiltered form, an unconditional deliver; two frames are
// [topic, payload], filtered per Accepts; any other count is a protocol
// error naming the actual frame count it received.
func DecodePublishMessage(frames [][]byte, role, identity string) (payload []byte, deliver bool, err error) {
	switch len(frames) {
	case 1:
		return frames[0], true, nil
	case 2:
		topic := string(frames[0])
		return frames[1], Accepts(topic, role, identity), nil
	default:
		return nil, false, wireerr.NewProtocolError("unexpected publish frame count: %d", len(frames))
	}
}
