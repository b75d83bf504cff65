// Package store keeps the local list of repository configurations.
//
// The list is a JSON array persisted to a single file which is rewritten
// atomically on every change. Aliases are unique without regard to case.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/creachadair/atomicfile"

	"github.com/notesync/notesync/libs/log"
)

// DefaultFileName is the name of the repository list under the data dir.
const DefaultFileName = "repository_config.json"

// Repository is one configured note repository.
type Repository struct {
	Alias     string `json:"alias"`
	GitURL    string `json:"gitUrl"`
	LocalPath string `json:"localPath"`
	// Token authenticates against the git remote. It is local-only and is
	// never sent to peers.
	Token string `json:"token,omitempty"`
}

// HasToken reports whether an access token is configured.
func (r Repository) HasToken() bool { return r.Token != "" }

// Redacted returns a copy with the token removed.
func (r Repository) Redacted() Repository {
	r.Token = ""
	return r
}

// FileStore is a concurrency-safe repository list. With an empty path it
// keeps the list in memory only.
type FileStore struct {
	logger log.Logger
	path   string

	mtx   sync.RWMutex
	repos []Repository
}

// NewFileStore loads the list at path, creating an empty one if the file
// does not exist.
func NewFileStore(logger log.Logger, path string) (*FileStore, error) {
	s := &FileStore{logger: logger, path: path}
	if path == "" {
		return s, nil
	}

	bz, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("creating repository store dir: %w", err)
		}
		if err := s.persist(nil); err != nil {
			return nil, err
		}
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("reading repository store: %w", err)
	}

	if len(bytes.TrimSpace(bz)) > 0 {
		if err := json.Unmarshal(bz, &s.repos); err != nil {
			return nil, fmt.Errorf("decoding repository store %s: %w", path, err)
		}
	}
	return s, nil
}

// NewMemStore returns a store that is never written to disk.
func NewMemStore(repos ...Repository) *FileStore {
	return &FileStore{logger: log.NewNopLogger(), repos: append([]Repository(nil), repos...)}
}

// List returns a copy of every entry.
func (s *FileStore) List() []Repository {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return append([]Repository{}, s.repos...)
}

// GetByAlias looks up an entry by case-insensitive alias.
func (s *FileStore) GetByAlias(alias string) (Repository, bool) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	if i := s.indexOf(alias); i >= 0 {
		return s.repos[i], true
	}
	return Repository{}, false
}

// FindByURL looks up the first entry whose git URL matches, ignoring case.
func (s *FileStore) FindByURL(url string) (Repository, bool) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	if url == "" {
		return Repository{}, false
	}
	for _, r := range s.repos {
		if strings.EqualFold(r.GitURL, url) {
			return r, true
		}
	}
	return Repository{}, false
}

// Add appends repo. It returns false if the alias is empty or taken, or if
// the list could not be saved.
func (s *FileStore) Add(repo Repository) bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if repo.Alias == "" || s.indexOf(repo.Alias) >= 0 {
		return false
	}

	next := append(append([]Repository{}, s.repos...), repo)
	return s.commit(next, "add", repo.Alias)
}

// Remove deletes the entry with the given alias. It returns false if there
// is none.
func (s *FileStore) Remove(alias string) bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	i := s.indexOf(alias)
	if i < 0 {
		return false
	}

	next := make([]Repository, 0, len(s.repos)-1)
	next = append(next, s.repos[:i]...)
	next = append(next, s.repos[i+1:]...)
	return s.commit(next, "remove", alias)
}

// Update replaces the entry stored under oldAlias with repo. It returns
// false if oldAlias is unknown or repo's alias belongs to another entry.
func (s *FileStore) Update(oldAlias string, repo Repository) bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	i := s.indexOf(oldAlias)
	if i < 0 || repo.Alias == "" {
		return false
	}
	if j := s.indexOf(repo.Alias); j >= 0 && j != i {
		return false
	}

	next := append([]Repository{}, s.repos...)
	next[i] = repo
	return s.commit(next, "update", oldAlias)
}

// commit persists next and makes it current. s.mtx must be held.
func (s *FileStore) commit(next []Repository, op, alias string) bool {
	if err := s.persist(next); err != nil {
		s.logger.Error("failed to save repository list", "op", op, "alias", alias, "err", err)
		return false
	}
	s.repos = next
	return true
}

func (s *FileStore) persist(repos []Repository) error {
	if s.path == "" {
		return nil
	}
	if repos == nil {
		repos = []Repository{}
	}

	bz, err := json.MarshalIndent(repos, "", "  ")
	if err != nil {
		return err
	}
	if _, err := atomicfile.WriteAll(s.path, bytes.NewReader(bz), 0600); err != nil {
		return fmt.Errorf("writing repository store: %w", err)
	}
	return nil
}

func (s *FileStore) indexOf(alias string) int {
	if alias == "" {
		return -1
	}
	for i, r := range s.repos {
		if strings.EqualFold(r.Alias, alias) {
			return i
		}
	}
	return -1
}
