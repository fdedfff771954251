package pubsub

import (
	"crypto/sha1"
	"encoding/hex"
	"testing"
)

func TestTopicHashMatchesSHA1(t *testing.T) {
	sum := sha1.Sum([]byte("m1"))
	want := hex.EncodeToString(sum[:])
	if got := TopicHash("m1"); got != want {
		t.Errorf("TopicHash(m1) = %q, want %q", got, want)
	}
}

func TestSubscriptionTopicsUnfiltered(t *testing.T) {
	topics, unfiltered := SubscriptionTopics(false, "minion", "m1")
	if !unfiltered || topics != nil {
		t.Errorf("unfiltered=%v topics=%v, want true/nil", unfiltered, topics)
	}
}

func TestSubscriptionTopicsFilteredNormalRole(t *testing.T) {
	topics, unfiltered := SubscriptionTopics(true, "minion", "m1")
	if unfiltered {
		t.Fatal("expected filtered")
	}
	want := []string{"broadcast", TopicHash("m1")}
	if len(topics) != 2 || topics[0] != want[0] || topics[1] != want[1] {
		t.Errorf("topics = %v, want %v", topics, want)
	}
}

func TestSubscriptionTopicsFilteredSyndic(t *testing.T) {
	topics, _ := SubscriptionTopics(true, "syndic", "m1")
	want := []string{"broadcast", "syndic"}
	if len(topics) != 2 || topics[0] != want[0] || topics[1] != want[1] {
		t.Errorf("topics = %v, want %v", topics, want)
	}
}

func TestAcceptsBroadcastAlwaysMatches(t *testing.T) {
	if !Accepts("broadcast", "minion", "m1") {
		t.Error("broadcast should always match")
	}
}

func TestAcceptsOwnTopicHash(t *testing.T) {
	if !Accepts(TopicHash("m1"), "minion", "m1") {
		t.Error("own topic hash should match")
	}
	if Accepts(TopicHash("other"), "minion", "m1") {
		t.Error("unrelated topic hash should not match")
	}
}

func TestAcceptsSyndicRole(t *testing.T) {
	if !Accepts("syndic", "syndic", "m1") {
		t.Error("syndic topic should match syndic role")
	}
	if Accepts(TopicHash("m1"), "syndic", "m1") {
		t.Error("syndic role should not match its own topic hash")
	}
}

func TestDecodePublishMessageSingleFrame(t *testing.T) {
	payload, deliver, err := DecodePublishMessage([][]byte{[]byte("hello")}, "minion", "m1")
	if err != nil || !deliver || string(payload) != "hello" {
		t.Errorf("got payload=%q deliver=%v err=%v", payload, deliver, err)
	}
}

func TestDecodePublishMessageTwoFrameMatch(t *testing.T) {
	payload, deliver, err := DecodePublishMessage([][]byte{[]byte("broadcast"), []byte("cmd")}, "minion", "m1")
	if err != nil || !deliver || string(payload) != "cmd" {
		t.Errorf("got payload=%q deliver=%v err=%v", payload, deliver, err)
	}
}

func TestDecodePublishMessageTwoFrameNoMatch(t *testing.T) {
	_, deliver, err := DecodePublishMessage([][]byte{[]byte("other-topic"), []byte("cmd")}, "minion", "m1")
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if deliver {
		t.Error("expected non-matching topic to not deliver")
	}
}

func TestDecodePublishMessageBadFrameCount(t *testing.T) {
	_, _, err := DecodePublishMessage([][]byte{[]byte("a"), []byte("b"), []byte("c")}, "minion", "m1")
	if err == nil {
		t.Fatal("expected protocol error")
	}
	if got := err.Error(); got == "" {
		t.Error("expected non-empty error message")
	}
}
