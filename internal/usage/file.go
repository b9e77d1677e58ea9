package usage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/tailscale/hujson"

	"github.com/j-veylop/tokenwatch/internal/logger"
)

const debounceInterval = 100 * time.Millisecond

// FileSource serves the reading stored in a JSON file. The file may carry
// comments and trailing commas (HuJSON). It is re-read whenever it changes.
//
// Each load is consumption reported once: Fetch returns its counts on the
// first call after the load and zero counts until the file changes again.
// With WithTotals the file holds running totals and every Fetch returns them,
// for use under Cumulative.
type FileSource struct {
	path   string
	paths  Paths
	totals bool

	mu       sync.Mutex
	current  Usage
	err      error
	consumed bool

	watcher       *fsnotify.Watcher
	debounceTimer *time.Timer
	stopChan      chan struct{}
	closeOnce     sync.Once
}

// FileOption configures a FileSource.
type FileOption func(*FileSource)

// WithTotals marks the file as holding running totals.
func WithTotals() FileOption {
	return func(s *FileSource) { s.totals = true }
}

// NewFileSource loads path and starts watching it. A file that does not exist
// yet is not an error; Fetch fails until it appears.
func NewFileSource(path string, paths Paths, opts ...FileOption) (*FileSource, error) {
	s := &FileSource{
		path:     path,
		paths:    paths,
		stopChan: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Reload()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	// Watch the directory to catch atomic replacement of the file
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}
	s.watcher = watcher

	go s.watchLoop()
	return s, nil
}

// Fetch implements Source.
func (s *FileSource) Fetch(context.Context) (Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return Usage{}, s.err
	}
	if s.totals {
		return s.current, nil
	}
	if s.consumed {
		return Usage{AvgResponseTime: s.current.AvgResponseTime, ActiveUsers: s.current.ActiveUsers}, nil
	}
	s.consumed = true
	return s.current, nil
}

// Reload re-reads the file immediately.
func (s *FileSource) Reload() {
	u, err := s.read()
	s.mu.Lock()
	s.current, s.err = u, err
	s.consumed = false
	s.mu.Unlock()
	if err != nil {
		logger.Debug("usage file not loaded", "path", s.path, "error", err)
	}
}

func (s *FileSource) read() (Usage, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return Usage{}, fmt.Errorf("failed to read usage file: %w", err)
	}
	data, err = hujson.Standardize(data)
	if err != nil {
		return Usage{}, fmt.Errorf("failed to parse usage file: %w", err)
	}
	return Parse(data, s.paths)
}

// watchLoop handles file system events with debouncing.
func (s *FileSource) watchLoop() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(s.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				s.mu.Lock()
				if s.debounceTimer != nil {
					s.debounceTimer.Stop()
				}
				s.debounceTimer = time.AfterFunc(debounceInterval, s.Reload)
				s.mu.Unlock()
			}

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("usage file watcher error", "path", s.path, "error", err)

		case <-s.stopChan:
			return
		}
	}
}

// Close stops the watcher.
func (s *FileSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stopChan)
		s.mu.Lock()
		if s.debounceTimer != nil {
			s.debounceTimer.Stop()
		}
		s.mu.Unlock()
		err = s.watcher.Close()
	})
	return err
}
