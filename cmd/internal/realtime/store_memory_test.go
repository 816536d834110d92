package realtime

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestEnsureDirectChatPairIsUnordered(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	now := time.Now().UTC()

	id1, err := store.EnsureDirectChat(ctx, "alice", "bob", now)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	id2, err := store.EnsureDirectChat(ctx, "bob", "alice", now)
	if err != nil {
		t.Fatalf("ensure reversed: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("pair order changed the chat: %s vs %s", id1, id2)
	}

	for _, u := range []string{"alice", "bob"} {
		ok, err := store.IsMember(ctx, u, id1)
		if err != nil {
			t.Fatalf("is member %s: %v", u, err)
		}
		if !ok {
			t.Fatalf("%s should be a member", u)
		}
	}
	if ok, _ := store.IsMember(ctx, "mallory", id1); ok {
		t.Fatalf("mallory should not be a member")
	}
}

func TestEnsureDirectChatRejectsBadPairs(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	now := time.Now().UTC()

	cases := [][2]string{
		{"", "bob"},
		{"alice", ""},
		{"alice", "alice"},
	}
	for _, c := range cases {
		if _, err := store.EnsureDirectChat(ctx, c[0], c[1], now); err == nil {
			t.Fatalf("pair (%q,%q) should be rejected", c[0], c[1])
		}
	}
}

func TestAppendMessageIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	now := time.Now().UTC()

	chatID, err := store.EnsureDirectChat(ctx, "alice", "bob", now)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}

	in := AppendMessageInput{
		ChatID:      chatID,
		ClientMsgID: "c1",
		SenderID:    "alice",
		SenderName:  "Alice",
		Text:        "hi",
		Now:         now,
	}

	first, err := store.AppendMessage(ctx, in)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if first.Duplicated {
		t.Fatalf("first append marked duplicate")
	}
	if first.Stored.Seq != 1 {
		t.Fatalf("first seq = %d, want 1", first.Stored.Seq)
	}

	second, err := store.AppendMessage(ctx, in)
	if err != nil {
		t.Fatalf("replay append: %v", err)
	}
	if !second.Duplicated {
		t.Fatalf("replay not marked duplicate")
	}
	if second.Stored.Seq != first.Stored.Seq || second.Stored.ServerMsgID != first.Stored.ServerMsgID {
		t.Fatalf("replay returned a different message: %+v vs %+v", second.Stored, first.Stored)
	}

	// Duplicates must not burn sequence numbers.
	in.ClientMsgID = "c2"
	third, err := store.AppendMessage(ctx, in)
	if err != nil {
		t.Fatalf("append c2: %v", err)
	}
	if third.Stored.Seq != 2 {
		t.Fatalf("seq after duplicate = %d, want 2", third.Stored.Seq)
	}
}

func TestAppendMessageUnknownChat(t *testing.T) {
	store := NewInMemoryStore()
	_, err := store.AppendMessage(context.Background(), AppendMessageInput{
		ChatID:      "nope",
		ClientMsgID: "c1",
		SenderID:    "alice",
		Text:        "hi",
	})
	if err == nil {
		t.Fatalf("append into unknown chat should fail")
	}
}

func TestFetchHistoryPaging(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	now := time.Now().UTC()

	chatID, err := store.EnsureDirectChat(ctx, "alice", "bob", now)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}

	for i := 1; i <= 7; i++ {
		_, err := store.AppendMessage(ctx, AppendMessageInput{
			ChatID:      chatID,
			ClientMsgID: fmt.Sprintf("c%d", i),
			SenderID:    "alice",
			SenderName:  "Alice",
			Text:        fmt.Sprintf("msg %d", i),
			Now:         now.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	page1, err := store.FetchHistory(ctx, FetchHistoryInput{ChatID: chatID, Limit: 3})
	if err != nil {
		t.Fatalf("page1: %v", err)
	}
	if len(page1.Messages) != 3 || !page1.HasMore {
		t.Fatalf("page1 = %d msgs hasMore=%v, want 3/true", len(page1.Messages), page1.HasMore)
	}
	for i, m := range page1.Messages {
		if m.Seq != int64(i+1) {
			t.Fatalf("page1[%d].Seq = %d, want %d", i, m.Seq, i+1)
		}
	}

	after := page1.Messages[len(page1.Messages)-1].Seq
	page2, err := store.FetchHistory(ctx, FetchHistoryInput{ChatID: chatID, AfterSeq: &after, Limit: 3})
	if err != nil {
		t.Fatalf("page2: %v", err)
	}
	if len(page2.Messages) != 3 || !page2.HasMore {
		t.Fatalf("page2 = %d msgs hasMore=%v, want 3/true", len(page2.Messages), page2.HasMore)
	}
	if page2.Messages[0].Seq != 4 {
		t.Fatalf("page2 starts at seq %d, want 4", page2.Messages[0].Seq)
	}

	after = page2.Messages[len(page2.Messages)-1].Seq
	page3, err := store.FetchHistory(ctx, FetchHistoryInput{ChatID: chatID, AfterSeq: &after, Limit: 3})
	if err != nil {
		t.Fatalf("page3: %v", err)
	}
	if len(page3.Messages) != 1 || page3.HasMore {
		t.Fatalf("page3 = %d msgs hasMore=%v, want 1/false", len(page3.Messages), page3.HasMore)
	}

	past := int64(100)
	empty, err := store.FetchHistory(ctx, FetchHistoryInput{ChatID: chatID, AfterSeq: &past})
	if err != nil {
		t.Fatalf("past page: %v", err)
	}
	if len(empty.Messages) != 0 || empty.HasMore {
		t.Fatalf("page beyond tail should be empty")
	}
}

func TestListChats(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	first, err := store.EnsureDirectChat(ctx, "alice", "bob", base)
	if err != nil {
		t.Fatalf("ensure first: %v", err)
	}
	second, err := store.EnsureDirectChat(ctx, "alice", "carol", base.Add(time.Hour))
	if err != nil {
		t.Fatalf("ensure second: %v", err)
	}
	if _, err := store.EnsureDirectChat(ctx, "bob", "carol", base.Add(2*time.Hour)); err != nil {
		t.Fatalf("ensure third: %v", err)
	}

	if _, err := store.AppendMessage(ctx, AppendMessageInput{
		ChatID: first, ClientMsgID: "c1", SenderID: "alice", Text: "hi", Now: base,
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	chats, err := store.ListChats(ctx, "alice")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(chats) != 2 {
		t.Fatalf("alice has %d chats, want 2", len(chats))
	}
	// Newest first.
	if chats[0].ChatID != second || chats[1].ChatID != first {
		t.Fatalf("unexpected order: %+v", chats)
	}
	if chats[1].LastSeq != 1 {
		t.Fatalf("LastSeq = %d, want 1", chats[1].LastSeq)
	}
	if len(chats[0].MemberIDs) != 2 || chats[0].MemberIDs[0] != "alice" || chats[0].MemberIDs[1] != "carol" {
		t.Fatalf("unexpected members: %v", chats[0].MemberIDs)
	}

	none, err := store.ListChats(ctx, "mallory")
	if err != nil {
		t.Fatalf("list mallory: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("mallory should have no chats")
	}
}

func TestJanitorSweeps(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	busy, err := store.EnsureDirectChat(ctx, "alice", "bob", base)
	if err != nil {
		t.Fatalf("ensure busy: %v", err)
	}
	idle, err := store.EnsureDirectChat(ctx, "alice", "carol", base)
	if err != nil {
		t.Fatalf("ensure idle: %v", err)
	}

	_, err = store.AppendMessage(ctx, AppendMessageInput{
		ChatID: busy, ClientMsgID: "old", SenderID: "alice", Text: "old", Now: base,
	})
	if err != nil {
		t.Fatalf("append old: %v", err)
	}
	_, err = store.AppendMessage(ctx, AppendMessageInput{
		ChatID: busy, ClientMsgID: "fresh", SenderID: "bob", Text: "fresh", Now: base.Add(48 * time.Hour),
	})
	if err != nil {
		t.Fatalf("append fresh: %v", err)
	}

	removed, err := store.DeleteExpiredMessages(ctx, base.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("sweep messages: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}

	out, err := store.FetchHistory(ctx, FetchHistoryInput{ChatID: busy})
	if err != nil {
		t.Fatalf("history after sweep: %v", err)
	}
	if len(out.Messages) != 1 || out.Messages[0].ClientMsgID != "fresh" {
		t.Fatalf("unexpected survivors: %+v", out.Messages)
	}

	dropped, err := store.DeleteEmptyChats(ctx)
	if err != nil {
		t.Fatalf("sweep chats: %v", err)
	}
	if dropped != 1 {
		t.Fatalf("dropped = %d, want 1", dropped)
	}

	if ok, _ := store.IsMember(ctx, "alice", idle); ok {
		t.Fatalf("idle chat should be gone")
	}
	if ok, _ := store.IsMember(ctx, "alice", busy); !ok {
		t.Fatalf("busy chat should survive")
	}

	// The direct mapping must be recreatable after the sweep.
	again, err := store.EnsureDirectChat(ctx, "alice", "carol", base.Add(72*time.Hour))
	if err != nil {
		t.Fatalf("re-ensure: %v", err)
	}
	if again == idle {
		t.Fatalf("swept chat id should not be reused from the mapping")
	}
}
