package lattix

import (
	"context"
	"errors"
	"testing"
)

func TestConversationsAppendUpdatesActivity(t *testing.T) {
	store := newMemStore()
	convos := NewConversations(store)

	conv, err := convos.Create(context.Background(), "u1", "https://github.com/acme/pay/tree/dev", "dev", ModeDebug, "pay")
	if err != nil {
		t.Fatal(err)
	}
	if conv.RepoURL != "https://github.com/acme/pay" {
		t.Fatalf("url not normalized: %q", conv.RepoURL)
	}

	before := conv.LastActivity
	if _, err := convos.Append(context.Background(), conv.ID, RoleUser, "hello"); err != nil {
		t.Fatal(err)
	}
	stored, _ := convos.Get(context.Background(), conv.ID)
	if stored.LastActivity.Before(before) {
		t.Fatal("append must bump last activity")
	}
}

func TestConversationsClosedRejectsAppends(t *testing.T) {
	store := newMemStore()
	convos := NewConversations(store)
	conv, _ := convos.Create(context.Background(), "u1", "https://github.com/acme/pay", "main", ModeExplore, "pay")

	if _, err := convos.Append(context.Background(), conv.ID, RoleUser, "first"); err != nil {
		t.Fatal(err)
	}
	if err := convos.Close(context.Background(), conv.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := convos.Append(context.Background(), conv.ID, RoleUser, "too late"); !errors.Is(err, ErrConversationClosed) {
		t.Fatalf("err = %v, want ErrConversationClosed", err)
	}

	// Reopen resets the flag but not history.
	if err := convos.Reopen(context.Background(), conv.ID); err != nil {
		t.Fatal(err)
	}
	stored, _ := convos.GetWithMessages(context.Background(), conv.ID)
	if !stored.Active || len(stored.Messages) != 1 {
		t.Fatalf("reopened: active=%t messages=%d", stored.Active, len(stored.Messages))
	}
	if _, err := convos.Append(context.Background(), conv.ID, RoleUser, "back again"); err != nil {
		t.Fatal(err)
	}
}

func TestConversationsMessageOrderPreserved(t *testing.T) {
	store := newMemStore()
	convos := NewConversations(store)
	conv, _ := convos.Create(context.Background(), "u1", "https://github.com/acme/pay", "main", ModeExplore, "pay")

	contents := []string{"one", "two", "three", "four"}
	for _, c := range contents {
		if _, err := convos.Append(context.Background(), conv.ID, RoleUser, c); err != nil {
			t.Fatal(err)
		}
	}
	stored, _ := convos.GetWithMessages(context.Background(), conv.ID)
	for i, want := range contents {
		if stored.Messages[i].Content != want {
			t.Fatalf("message[%d] = %q, want %q", i, stored.Messages[i].Content, want)
		}
	}
}

func TestConversationsAppendUnknownConversation(t *testing.T) {
	convos := NewConversations(newMemStore())
	if _, err := convos.Append(context.Background(), "missing", RoleUser, "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
