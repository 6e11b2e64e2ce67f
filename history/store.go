// Package history persists conversation logs as plain JSON files, one file
// per two-party conversation. The element shape matches the wire chat
// payload, so server-side and client-side history files are interchangeable.
package history

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"chat-relay/wire"
)

// ConversationID derives the order-independent key for a two-party
// conversation: the participant names sorted and joined with "_".
func ConversationID(a, b string) string {
	users := []string{a, b}
	sort.Strings(users)
	return strings.Join(users, "_")
}

// Store owns one directory of conversation files. Appends to the same
// conversation are serialized internally; distinct conversations proceed
// concurrently.
type Store struct {
	dir string
	log *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates the root directory if needed and returns a store over it.
func NewStore(dir string, log *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create history dir %s", dir)
	}
	return &Store{
		dir:   dir,
		log:   log,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// lockFor returns the mutex serializing writes to one conversation.
// Entries are never evicted; the map grows by one small entry per
// conversation ever touched, bounded by the user-pair population.
func (s *Store) lockFor(conversationID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[conversationID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[conversationID] = l
	}
	return l
}

func (s *Store) path(conversationID string) string {
	return filepath.Join(s.dir, conversationID+".json")
}

// Append adds a message to the end of a conversation. The whole file is
// read back, extended and rewritten; the conversation lock prevents lost
// updates between the read and the write.
func (s *Store) Append(conversationID string, m wire.Message) error {
	l := s.lockFor(conversationID)
	l.Lock()
	defer l.Unlock()

	payloads := s.loadPayloads(conversationID)
	payloads = append(payloads, m.Payload())
	return s.write(conversationID, payloads)
}

func (s *Store) write(conversationID string, payloads []wire.MessagePayload) error {
	data, err := json.MarshalIndent(payloads, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode history")
	}

	// Write-then-rename so a crash mid-write never corrupts the log.
	path := s.path(conversationID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrapf(err, "write history %s", conversationID)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrapf(err, "replace history %s", conversationID)
	}
	return nil
}

// Replace overwrites a conversation with the given sequence. The client
// cache uses this to adopt the authoritative history fetched from the
// server.
func (s *Store) Replace(conversationID string, messages []wire.Message) error {
	l := s.lockFor(conversationID)
	l.Lock()
	defer l.Unlock()

	payloads := lo.Map(messages, func(m wire.Message, _ int) wire.MessagePayload {
		return m.Payload()
	})
	return s.write(conversationID, payloads)
}

// Load returns the full ordered conversation. A missing or unreadable file
// is an empty conversation, never an error; history reads are non-fatal.
func (s *Store) Load(conversationID string) []wire.Message {
	l := s.lockFor(conversationID)
	l.Lock()
	defer l.Unlock()

	payloads := s.loadPayloads(conversationID)
	return lo.Map(payloads, func(p wire.MessagePayload, _ int) wire.Message {
		return p.Message()
	})
}

func (s *Store) loadPayloads(conversationID string) []wire.MessagePayload {
	data, err := os.ReadFile(s.path(conversationID))
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("history unreadable", "conversation", conversationID, "error", err)
		}
		return nil
	}

	var payloads []wire.MessagePayload
	if err := json.Unmarshal(data, &payloads); err != nil {
		s.log.Warn("history corrupt, treating as empty", "conversation", conversationID, "error", err)
		return nil
	}
	return payloads
}
