package streamclient

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/aind-capture/metadata-agent/internal/model"
)

// Storage is the key-value backend for session snapshots. Implementations
// need not be durable; a missing or failed read just means block structure is
// lost on reload.
type Storage interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte) error
}

// SnapshotStore persists the full client-visible message sequence per
// session and merges it with server history on load. The server is
// authoritative for which turns happened and their flattened content; the
// snapshot is authoritative for block structure and for trailing turns the
// server never durably stored.
type SnapshotStore struct {
	storage Storage
}

func NewSnapshotStore(storage Storage) *SnapshotStore {
	return &SnapshotStore{storage: storage}
}

func snapshotKey(sessionID string) string {
	return "chat-session:" + sessionID
}

// Save overwrites the snapshot for a session with the given message
// sequence. Write failures are swallowed; losing the snapshot degrades the
// next reload, it must not break the stream that just finished.
func (s *SnapshotStore) Save(sessionID string, messages []model.Message) {
	if sessionID == "" {
		return
	}
	data, err := json.Marshal(messages)
	if err != nil {
		return
	}
	_ = s.storage.Set(snapshotKey(sessionID), data)
}

// Load returns the snapshot for a session. A missing or unparseable
// snapshot reports ok=false.
func (s *SnapshotStore) Load(sessionID string) ([]model.Message, bool) {
	data, ok := s.storage.Get(snapshotKey(sessionID))
	if !ok {
		return nil, false
	}
	var messages []model.Message
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, false
	}
	return messages, true
}

// Merge combines the server's message sequence with the local snapshot. For
// each index the server's role and content win but the snapshot's blocks are
// attached, without checking that the two agree. Snapshot messages beyond
// the server sequence are appended verbatim; they are turns the server never
// received, such as an assistant reply interrupted before persistence.
func (s *SnapshotStore) Merge(sessionID string, backend []model.Message) []model.Message {
	cached, ok := s.Load(sessionID)
	if !ok {
		return backend
	}

	merged := make([]model.Message, 0, len(backend))
	for i, msg := range backend {
		if i < len(cached) {
			msg.Blocks = cached[i].Blocks
		}
		merged = append(merged, msg)
	}
	if len(cached) > len(backend) {
		merged = append(merged, cached[len(backend):]...)
	}
	return merged
}

// MemoryStorage is an in-memory Storage, used by tests and as the default
// when no durable backend is wired.
type MemoryStorage struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{data: make(map[string][]byte)}
}

func (m *MemoryStorage) Get(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok
}

func (m *MemoryStorage) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

// FileStorage keeps each key in its own file under a directory. It backs
// snapshots for long-lived CLI or desktop consumers.
type FileStorage struct {
	dir string
}

func NewFileStorage(dir string) (*FileStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileStorage{dir: dir}, nil
}

func (f *FileStorage) path(key string) string {
	// Keys contain a ':' separator; keep filenames portable.
	safe := make([]rune, 0, len(key))
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			safe = append(safe, r)
		default:
			safe = append(safe, '_')
		}
	}
	return filepath.Join(f.dir, string(safe)+".json")
}

func (f *FileStorage) Get(key string) ([]byte, bool) {
	data, err := os.ReadFile(f.path(key))
	if err != nil {
		return nil, false
	}
	return data, true
}

func (f *FileStorage) Set(key string, value []byte) error {
	return os.WriteFile(f.path(key), value, 0o644)
}
