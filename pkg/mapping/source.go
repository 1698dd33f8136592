package mapping

import (
	"os"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
)

// Source hands out the current mapping table, re-reading the file when
// its modification time changes. A parse failure on reload keeps the
// previously loaded table, so a bad edit degrades to a logged warning
// instead of stopping rollouts.
type Source struct {
	path   string
	logger log.Logger

	mu      sync.Mutex
	table   Table
	modTime time.Time
	loaded  bool
}

func NewSource(path string, logger log.Logger) *Source {
	return &Source{path: path, logger: logger}
}

// Path returns the mapping file location.
func (s *Source) Path() string { return s.path }

// Get returns the current table, reloading from disk when the file
// changed. The returned error is non-nil only when no table has ever
// been loaded; after the first successful load, reload problems are
// logged and the previous table stays in effect.
func (s *Source) Get() (Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, statErr := os.Stat(s.path)
	if statErr != nil {
		if s.loaded {
			s.logger.Log("warning", "mapping file went away; keeping previous table", "path", s.path, "err", statErr)
			return s.table, nil
		}
		return Table{}, statErr
	}

	if s.loaded && info.ModTime().Equal(s.modTime) {
		return s.table, nil
	}

	fresh, loadErr := Load(s.path)
	if loadErr != nil {
		if s.loaded {
			s.logger.Log("warning", "mapping file unparseable; keeping previous table", "path", s.path, "err", loadErr)
			return s.table, nil
		}
		return Table{}, loadErr
	}

	for _, w := range fresh.Warnings {
		s.logger.Log("warning", w, "path", s.path)
	}
	if s.loaded {
		s.logger.Log("event", "mapping reloaded", "path", s.path, "rules", len(fresh.Rules))
	}
	s.table = fresh
	s.modTime = info.ModTime()
	s.loaded = true
	return s.table, nil
}
