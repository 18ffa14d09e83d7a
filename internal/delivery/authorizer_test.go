package delivery

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakePerms struct {
	managers map[string]bool
}

func (p *fakePerms) HasManageMessages(_ context.Context, userID, _, _ string) bool {
	return p.managers[userID]
}

type fakeMessenger struct {
	deleted []string
	err     error
}

func (m *fakeMessenger) DeleteMessage(_ context.Context, _, messageID string) error {
	if m.err != nil {
		return m.err
	}
	m.deleted = append(m.deleted, messageID)
	return nil
}

func newAuthorizerFixture(t *testing.T) (*Authorizer, *Store, *fakeMessenger) {
	t.Helper()
	store := NewStore(nil, 16, time.Hour)
	messenger := &fakeMessenger{}
	perms := &fakePerms{managers: map[string]bool{"mod": true}}
	return NewAuthorizer(nil, store, perms, messenger), store, messenger
}

func TestHandleReactionByRequester(t *testing.T) {
	t.Parallel()

	auth, store, messenger := newAuthorizerFixture(t)
	store.Put(Record{MessageID: "m1", UserID: "u1", GuildID: "g1", ChannelID: "c1"})

	if err := auth.HandleReaction(context.Background(), "m1", "u1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(messenger.deleted) != 1 || messenger.deleted[0] != "m1" {
		t.Fatalf("expected message deletion, got %v", messenger.deleted)
	}
	if _, ok := store.Get("m1"); ok {
		t.Fatalf("record should be removed after deletion")
	}
}

func TestHandleReactionByStrangerIsNoOp(t *testing.T) {
	t.Parallel()

	auth, store, messenger := newAuthorizerFixture(t)
	store.Put(Record{MessageID: "m1", UserID: "u1", GuildID: "g1", ChannelID: "c1"})

	if err := auth.HandleReaction(context.Background(), "m1", "someone-else"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(messenger.deleted) != 0 {
		t.Fatalf("message should not be deleted")
	}
	if _, ok := store.Get("m1"); !ok {
		t.Fatalf("record should remain")
	}
}

func TestHandleReactionByManager(t *testing.T) {
	t.Parallel()

	auth, store, messenger := newAuthorizerFixture(t)
	store.Put(Record{MessageID: "m1", UserID: "u1", GuildID: "g1", ChannelID: "c1"})

	if err := auth.HandleReaction(context.Background(), "m1", "mod"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(messenger.deleted) != 1 {
		t.Fatalf("manager should be able to retract")
	}
}

func TestHandleReactionUnknownMessageSilent(t *testing.T) {
	t.Parallel()

	auth, _, messenger := newAuthorizerFixture(t)

	if err := auth.HandleReaction(context.Background(), "never-tracked", "u1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(messenger.deleted) != 0 {
		t.Fatalf("nothing should be deleted")
	}
}

func TestHandleReactionAfterExternalDelete(t *testing.T) {
	t.Parallel()

	auth, store, messenger := newAuthorizerFixture(t)
	store.Put(Record{MessageID: "m1", UserID: "u1", GuildID: "g1", ChannelID: "c1"})

	auth.HandleMessageDeleted("m1")

	if err := auth.HandleReaction(context.Background(), "m1", "u1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(messenger.deleted) != 0 {
		t.Fatalf("retraction after external delete should be ignored")
	}
}

func TestHandleReactionDeleteFailure(t *testing.T) {
	t.Parallel()

	auth, store, messenger := newAuthorizerFixture(t)
	store.Put(Record{MessageID: "m1", UserID: "u1", GuildID: "g1", ChannelID: "c1"})
	messenger.err = errors.New("gateway down")

	if err := auth.HandleReaction(context.Background(), "m1", "u1"); err == nil {
		t.Fatalf("expected error")
	}
	if _, ok := store.Get("m1"); !ok {
		t.Fatalf("record should remain when deletion fails")
	}
}
