package watchlist

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

var ErrNotFound = errors.New("symbol not in watchlist")

// Entry is one watched security.
type Entry struct {
	Symbol string `yaml:"symbol" json:"symbol"`
	Name   string `yaml:"name,omitempty" json:"name,omitempty"`
}

type fileFormat struct {
	Watchlist []Entry `yaml:"watchlist"`
}

// Store keeps the watchlist in a YAML file. Mutations rewrite the whole
// file; the REST handlers call concurrently, so reads and writes lock.
type Store struct {
	fs   afero.Fs
	path string

	mu      sync.RWMutex
	entries []Entry
}

// Open loads the watchlist from path. A missing file is an empty watchlist,
// not an error; the file appears on the first Add.
func Open(fs afero.Fs, path string) (*Store, error) {
	s := &Store{fs: fs, path: path}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.entries = nil
			return nil
		}
		return fmt.Errorf("read watchlist: %w", err)
	}
	var file fileFormat
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse watchlist: %w", err)
	}
	entries := make([]Entry, 0, len(file.Watchlist))
	for _, e := range file.Watchlist {
		e.Symbol = strings.ToUpper(strings.TrimSpace(e.Symbol))
		if e.Symbol == "" {
			continue
		}
		entries = append(entries, e)
	}
	s.entries = entries
	return nil
}

// Reload re-reads the file, picking up out-of-band edits.
func (s *Store) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Entries returns the watchlist sorted by symbol.
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Add upserts an entry by symbol and persists the file.
func (s *Store) Add(entry Entry) error {
	entry.Symbol = strings.ToUpper(strings.TrimSpace(entry.Symbol))
	if entry.Symbol == "" {
		return errors.New("symbol is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	replaced := false
	for i, e := range s.entries {
		if e.Symbol == entry.Symbol {
			s.entries[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		s.entries = append(s.entries, entry)
	}
	return s.persist()
}

// Remove deletes an entry by symbol and persists the file. Returns
// ErrNotFound when the symbol was never watched.
func (s *Store) Remove(symbol string) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.entries {
		if e.Symbol == symbol {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return s.persist()
		}
	}
	return ErrNotFound
}

func (s *Store) persist() error {
	data, err := yaml.Marshal(fileFormat{Watchlist: s.entries})
	if err != nil {
		return fmt.Errorf("encode watchlist: %w", err)
	}
	if err := afero.WriteFile(s.fs, s.path, data, 0o644); err != nil {
		return fmt.Errorf("write watchlist: %w", err)
	}
	return nil
}
