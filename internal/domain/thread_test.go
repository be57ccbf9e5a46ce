package domain

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
)

func TestPost_HasReference(t *testing.T) {
	p := Post{References: []Reference{{Type: RefRepliedTo, ID: "1"}, {Type: RefQuoted, ID: "2"}}}
	if !p.HasReference(RefQuoted) || !p.HasReference(RefRepliedTo) {
		t.Fatalf("expected quoted and replied_to references")
	}
	if p.HasReference(RefRetweeted) {
		t.Fatalf("unexpected retweeted reference")
	}
	if (Post{}).HasReference(RefQuoted) {
		t.Fatalf("post without references should report none")
	}
}

func TestThreadSnapshot_AuthorOf_FallsBackToUnknown(t *testing.T) {
	s := &ThreadSnapshot{Authors: map[string]Author{"1": {ID: "1", Username: "alice"}}}
	if got := s.AuthorOf(Post{AuthorID: "1"}); got.Username != "alice" {
		t.Fatalf("AuthorOf known = %+v", got)
	}
	got := s.AuthorOf(Post{AuthorID: "9"})
	if got.Username != UnknownUsername || got.ID != "9" {
		t.Fatalf("AuthorOf unknown = %+v", got)
	}
}

func TestThreadSnapshot_Usernames_DistinctInOrder(t *testing.T) {
	s := &ThreadSnapshot{Posts: []Post{
		{AuthorUsername: "alice"},
		{AuthorUsername: "bob"},
		{AuthorUsername: UnknownUsername},
		{AuthorUsername: "alice"},
		{AuthorUsername: ""},
	}}
	if got, want := s.Usernames(), []string{"alice", "bob"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Usernames() = %v; want %v", got, want)
	}
}

func TestThreadSnapshot_JSONFieldNames(t *testing.T) {
	s := ThreadSnapshot{ThreadID: "42", ReferencedCount: 1}
	b, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	out := string(b)
	for _, k := range []string{`"thread_id":"42"`, `"reply_count":1`, `"main_tweet"`, `"tweets"`, `"quote_tweets"`, `"reply_chain"`} {
		if !strings.Contains(out, k) {
			t.Fatalf("expected %s in %s", k, out)
		}
	}
}

func TestConsensusResult_SetMeta_AllocatesMap(t *testing.T) {
	var r ConsensusResult
	r.SetMeta("k", 1)
	if r.Metadata["k"] != 1 {
		t.Fatalf("SetMeta did not store value: %+v", r.Metadata)
	}
}

func TestConsensusResult_NilOptionalsSerializeAsNull(t *testing.T) {
	b, err := json.Marshal(ConsensusResult{Success: true})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	out := string(b)
	for _, k := range []string{`"enhanced_context":null`, `"peace_meme_url":null`} {
		if !strings.Contains(out, k) {
			t.Fatalf("expected %s in %s", k, out)
		}
	}
	if strings.Contains(out, `"error"`) {
		t.Fatalf("error should be omitted on success: %s", out)
	}
}
