// Package state provides filesystem-backed records of past sessions.
package state

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/user/ghostd/internal/protocol"
)

// SessionRecord is one row of the session index.
type SessionRecord struct {
	ID        protocol.SessionID `json:"id"`
	Target    protocol.TargetID  `json:"target"`
	Claim     string             `json:"claim"`
	Phase     string             `json:"phase"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Entry is one journaled message emission.
type Entry struct {
	Seq     int64            `json:"seq"`
	At      time.Time        `json:"at"`
	Message protocol.Message `json:"message"`
}

// Journal records every message a session emits, one JSONL file per session
// under sessions/<id>/messages.jsonl, plus a JSON index of session metadata.
// It exists for the session CLI and the debug API, not for replay: sessions
// never resume.
type Journal struct {
	root  string
	mu    sync.Mutex
	locks map[protocol.SessionID]*sync.Mutex
}

// NewJournal creates a Journal rooted at the given data directory.
func NewJournal(root string) *Journal {
	return &Journal{
		root:  root,
		locks: make(map[protocol.SessionID]*sync.Mutex),
	}
}

func (j *Journal) indexPath() string {
	return filepath.Join(j.root, "sessions", "sessions.json")
}

func (j *Journal) sessionDir(id protocol.SessionID) string {
	return filepath.Join(j.root, "sessions", string(id))
}

func (j *Journal) messagesPath(id protocol.SessionID) string {
	return filepath.Join(j.root, "sessions", string(id), "messages.jsonl")
}

// SessionsDir returns the directory holding all session data.
func (j *Journal) SessionsDir() string {
	return filepath.Join(j.root, "sessions")
}

func (j *Journal) getLock(id protocol.SessionID) *sync.Mutex {
	j.mu.Lock()
	defer j.mu.Unlock()
	if lock, ok := j.locks[id]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	j.locks[id] = lock
	return lock
}

// loadIndex reads the session index. A missing file is an empty index.
// Caller must hold j.mu.
func (j *Journal) loadIndex() ([]*SessionRecord, error) {
	data, err := os.ReadFile(j.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read session index: %w", err)
	}
	var records []*SessionRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("unmarshal session index: %w", err)
	}
	return records, nil
}

// saveIndex writes the index atomically. Caller must hold j.mu.
func (j *Journal) saveIndex(records []*SessionRecord) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session index: %w", err)
	}
	if err := os.MkdirAll(j.SessionsDir(), 0o755); err != nil {
		return fmt.Errorf("create sessions dir: %w", err)
	}
	tmp := j.indexPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write session index: %w", err)
	}
	if err := os.Rename(tmp, j.indexPath()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename session index: %w", err)
	}
	return nil
}

// Create adds a session to the index in its initial phase.
func (j *Journal) Create(record *SessionRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	records, err := j.loadIndex()
	if err != nil {
		return err
	}
	now := time.Now()
	record.CreatedAt = now
	record.UpdatedAt = now
	records = append(records, record)
	return j.saveIndex(records)
}

// SetPhase updates a session's recorded phase. Unknown sessions are a no-op;
// the journal is observability, not control flow.
func (j *Journal) SetPhase(id protocol.SessionID, phase string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	records, err := j.loadIndex()
	if err != nil {
		return err
	}
	for _, rec := range records {
		if rec.ID == id {
			rec.Phase = phase
			rec.UpdatedAt = time.Now()
			return j.saveIndex(records)
		}
	}
	return nil
}

// Remove drops a session from the index. Unknown sessions are a no-op.
func (j *Journal) Remove(id protocol.SessionID) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	records, err := j.loadIndex()
	if err != nil {
		return err
	}
	kept := records[:0]
	for _, rec := range records {
		if rec.ID != id {
			kept = append(kept, rec)
		}
	}
	if len(kept) == len(records) {
		return nil
	}
	return j.saveIndex(kept)
}

// List returns all recorded sessions, oldest first.
func (j *Journal) List() ([]*SessionRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	records, err := j.loadIndex()
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []*SessionRecord{}
	}
	return records, nil
}

// Append journals one emitted message with an auto-incremented sequence
// number.
func (j *Journal) Append(id protocol.SessionID, msg protocol.Message) error {
	lock := j.getLock(id)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(j.sessionDir(id), 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	existing, err := j.count(id)
	if err != nil {
		return err
	}

	entry := Entry{Seq: existing + 1, At: time.Now(), Message: msg}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}

	f, err := os.OpenFile(j.messagesPath(id), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write journal entry: %w", err)
	}
	return nil
}

// count reads the journal and counts lines. Caller must hold the session lock.
func (j *Journal) count(id protocol.SessionID) (int64, error) {
	f, err := os.Open(j.messagesPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	var count int64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		count++
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scan journal: %w", err)
	}
	return count, nil
}

// Count returns the number of journaled messages for a session.
func (j *Journal) Count(id protocol.SessionID) (int64, error) {
	lock := j.getLock(id)
	lock.Lock()
	defer lock.Unlock()
	return j.count(id)
}

// Messages returns the last limit journaled messages for a session.
func (j *Journal) Messages(id protocol.SessionID, limit int) ([]*Entry, error) {
	lock := j.getLock(id)
	lock.Lock()
	defer lock.Unlock()

	f, err := os.Open(j.messagesPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	var entries []*Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return nil, fmt.Errorf("unmarshal journal entry: %w", err)
		}
		entries = append(entries, &entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan journal: %w", err)
	}

	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}
