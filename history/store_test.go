package history

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chat-relay/wire"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return store
}

func testMessage(from, to, text string) wire.Message {
	return wire.Message{
		From:      from,
		To:        to,
		Text:      text,
		Timestamp: time.Date(2024, 6, 1, 12, 0, 0, 0, time.Local),
		Kind:      wire.Private,
	}
}

func TestConversationID_Symmetric(t *testing.T) {
	req := require.New(t)

	req.Equal(ConversationID("alice", "bob"), ConversationID("bob", "alice"))
	req.Equal("alice_bob", ConversationID("bob", "alice"))
	req.NotEqual(ConversationID("alice", "bob"), ConversationID("alice", "carol"))
}

func TestStore_AppendThenLoad(t *testing.T) {
	req := require.New(t)
	store := testStore(t)
	id := ConversationID("alice", "bob")

	m := testMessage("alice", "bob", "hi")
	req.NoError(store.Append(id, m))

	messages := store.Load(id)
	req.Len(messages, 1)
	req.Equal(m, messages[0])

	// Load without an intervening append is idempotent.
	req.Equal(messages, store.Load(id))
}

func TestStore_AppendPreservesOrder(t *testing.T) {
	req := require.New(t)
	store := testStore(t)
	id := ConversationID("alice", "bob")

	req.NoError(store.Append(id, testMessage("alice", "bob", "first")))
	req.NoError(store.Append(id, testMessage("bob", "alice", "second")))
	req.NoError(store.Append(id, testMessage("alice", "bob", "third")))

	messages := store.Load(id)
	req.Len(messages, 3)
	req.Equal("first", messages[0].Text)
	req.Equal("second", messages[1].Text)
	req.Equal("third", messages[2].Text)
}

func TestStore_LoadMissingConversation(t *testing.T) {
	store := testStore(t)

	require.Empty(t, store.Load(ConversationID("nobody", "noone")))
}

func TestStore_CorruptFileLoadsEmpty(t *testing.T) {
	req := require.New(t)
	dir := t.TempDir()
	store, err := NewStore(dir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	req.NoError(err)

	id := ConversationID("alice", "bob")
	req.NoError(os.WriteFile(filepath.Join(dir, id+".json"), []byte("{broken"), 0o644))

	// A corrupt record degrades to an empty conversation.
	req.Empty(store.Load(id))

	// And the next append starts the file over cleanly.
	req.NoError(store.Append(id, testMessage("alice", "bob", "fresh")))
	req.Len(store.Load(id), 1)
}

func TestStore_Replace(t *testing.T) {
	req := require.New(t)
	store := testStore(t)
	id := ConversationID("alice", "bob")

	req.NoError(store.Append(id, testMessage("alice", "bob", "stale")))

	replacement := []wire.Message{
		testMessage("alice", "bob", "one"),
		testMessage("bob", "alice", "two"),
	}
	req.NoError(store.Replace(id, replacement))

	messages := store.Load(id)
	req.Len(messages, 2)
	req.Equal("one", messages[0].Text)
	req.Equal("two", messages[1].Text)
}

func TestStore_ConcurrentAppendsSameConversation(t *testing.T) {
	req := require.New(t)
	store := testStore(t)
	id := ConversationID("alice", "bob")

	const writers = 8
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()
			_ = store.Append(id, testMessage("alice", "bob", "msg"))
		}()
	}
	wg.Wait()

	// Serialized appends must not lose updates.
	req.Len(store.Load(id), writers)
}

func TestStore_FilesAreInterchangeable(t *testing.T) {
	req := require.New(t)
	serverStore := testStore(t)
	clientStore := testStore(t)
	id := ConversationID("alice", "bob")

	m := testMessage("alice", "bob", "portable")
	req.NoError(serverStore.Append(id, m))
	req.NoError(clientStore.Replace(id, serverStore.Load(id)))

	req.Equal(serverStore.Load(id), clientStore.Load(id))
}
