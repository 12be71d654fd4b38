// Package state owns the bot's persisted document: identity, watched feeds and
// the opt-out set.
//
// The in-memory copy held by Store is the source of truth between persists.
// Every opt-out mutation is written to disk synchronously before AddOptOut
// returns; writes go to a temporary file that is renamed over the document so
// readers never observe a partial file.
package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// rename is replaced in tests to simulate a failing filesystem.
var rename = os.Rename

// Store guards the document. Mutations come from the scan loop only; the
// RWMutex lets read-only observers such as the status server take snapshots.
type Store struct {
	path   string
	logger *zap.Logger

	mu    sync.RWMutex
	doc   *Document
	index map[string]struct{}
	dirty bool
}

// NewStore returns a store for the document at path. Nothing is read until Load.
func NewStore(path string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		path:   path,
		logger: logger,
		index:  make(map[string]struct{}),
	}
}

// Path returns the location of the document.
func (s *Store) Path() string {
	return s.path
}

// ReadDocument decodes the document at path without side effects. A missing or
// empty file yields an error matching fs.ErrNotExist.
func ReadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%s is empty: %w", path, fs.ErrNotExist)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	doc.normalize()
	return &doc, nil
}

// Load reads the document into memory and returns a copy of it. When no
// document exists a placeholder is written and ErrBootstrapRequired returned;
// an existing document is never overwritten by Load.
func (s *Store) Load() (*Document, error) {
	doc, err := ReadDocument(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		if werr := writeDocument(s.path, Placeholder()); werr != nil {
			return nil, &StoreWriteError{Path: s.path, Err: werr}
		}
		s.logger.Warn("bootstrap_required", zap.String("path", s.path))
		return nil, ErrBootstrapRequired
	}
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.install(doc)
	loaded := doc.Clone()
	return &loaded, nil
}

func (s *Store) install(doc *Document) {
	s.doc = doc
	s.dirty = false
	s.index = make(map[string]struct{}, len(doc.OptOutSet))
	for _, author := range doc.OptOutSet {
		s.index[handleKey(author)] = struct{}{}
	}
}

// Persist replaces the in-memory document with doc and writes it to disk.
func (s *Store) Persist(doc *Document) error {
	if doc == nil {
		return errors.New("persist: nil document")
	}

	cp := doc.Clone()
	cp.normalize()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.install(&cp)
	return s.writeLocked(s.doc)
}

// persistLocked writes the in-memory document after a mutation by the bot. The
// watch list is only ever edited by the operator, so the list currently on
// disk is written back instead of the in-memory one, which may be a cycle old.
func (s *Store) persistLocked() error {
	out := s.doc
	if onDisk, err := ReadDocument(s.path); err == nil {
		cp := s.doc.Clone()
		cp.WatchList = onDisk.WatchList
		out = &cp
	}
	return s.writeLocked(out)
}

func (s *Store) writeLocked(doc *Document) error {
	if err := writeDocument(s.path, doc); err != nil {
		s.dirty = true
		s.logger.Error("store_write_failed", zap.String("path", s.path), zap.Error(err))
		return &StoreWriteError{Path: s.path, Err: err}
	}
	s.dirty = false
	return nil
}

// Flush re-persists the document if an earlier write failed.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.doc == nil || !s.dirty {
		return nil
	}
	if err := s.persistLocked(); err != nil {
		return err
	}
	s.logger.Info("store_flushed", zap.String("path", s.path))
	return nil
}

// Dirty reports whether the in-memory document is ahead of the file.
func (s *Store) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dirty
}

// AddOptOut records author in the opt-out set and persists immediately. Adding
// a present author is a no-op. If the write fails the author stays opted out in
// memory, the store is marked dirty and the *StoreWriteError is returned.
func (s *Store) AddOptOut(author string) (bool, error) {
	author = strings.TrimSpace(author)
	if author == "" {
		return false, errors.New("opt-out: empty author")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.doc == nil {
		return false, ErrNotLoaded
	}

	key := handleKey(author)
	if _, ok := s.index[key]; ok {
		return false, nil
	}

	s.doc.OptOutSet = append(s.doc.OptOutSet, author)
	s.index[key] = struct{}{}

	return true, s.persistLocked()
}

// IsOptedOut reports whether author asked not to be replied to. Handles are
// compared case-insensitively.
func (s *Store) IsOptedOut(author string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.index[handleKey(author)]
	return ok
}

// Snapshot returns a copy of the current document.
func (s *Store) Snapshot() Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.doc == nil {
		return Document{WatchList: []string{}, OptOutSet: []string{}}
	}
	return s.doc.Clone()
}

// WatchList returns the feeds to scan, in document order.
func (s *Store) WatchList() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.doc == nil {
		return nil
	}
	return append([]string(nil), s.doc.WatchList...)
}

// SetWatchList replaces the feeds in memory. The list comes from the file, so
// nothing is written back.
func (s *Store) SetWatchList(feeds []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.doc == nil {
		return
	}
	s.doc.WatchList = append([]string{}, feeds...)
}

func handleKey(handle string) string {
	return strings.ToLower(strings.TrimSpace(handle))
}

func writeDocument(path string, doc *Document) error {
	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
