package dict

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/ikedas/postfixproxy/internal/addrutil"
)

// File is a flat "key value" text table loaded entirely into memory at
// Open, standing in for Postfix's hash:/btree: table classes. Unlike those
// on-disk hash formats, File is read in full on open and never re-read —
// a changed backing file is detected (see Changed) and triggers a worker
// restart (spec §4.6), not a live reload, matching the original's
// "dict_changed() -> exit" behavior rather than inventing hot-reload
// semantics the spec never asks for.
type File struct {
	mu      sync.RWMutex
	path    string
	entries map[string]string
	changed atomic.Bool
	watcher *fsnotify.Watcher
}

// OpenFile loads path into memory and starts watching it for mutation.
// Lines are "key value" pairs separated by whitespace; blank lines and
// lines starting with '#' are skipped, matching Postfix table-file
// conventions.
func OpenFile(path string) (*File, error) {
	entries, err := loadKV(path)
	if err != nil {
		return nil, fmt.Errorf("dict: open %s: %w", path, err)
	}
	f := &File{path: path, entries: entries}

	// Best-effort: a failed watch install does not fail Open, it just
	// means Changed() can never observe a mutation for this handle.
	// Polling mtime on every Changed() call would work too, but a real
	// inotify watch is what the pack's stack (fsnotify, already pulled
	// in by codenerd) is for.
	if w, err := fsnotify.NewWatcher(); err == nil {
		if err := w.Add(path); err == nil {
			f.watcher = w
			go f.watchLoop()
		} else {
			w.Close()
		}
	}
	return f, nil
}

func (f *File) watchLoop() {
	for {
		select {
		case ev, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename|fsnotify.Create) != 0 {
				f.changed.Store(true)
			}
		case _, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.changed.Store(true)
		}
	}
}

func loadKV(path string) (map[string]string, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	entries := make(map[string]string)
	sc := bufio.NewScanner(fh)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		entries[fields[0]] = strings.Join(fields[1:], " ")
	}
	return entries, sc.Err()
}

// Get implements Dict.
func (f *File) Get(key string) (string, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.entries[key]
	return v, ok, nil
}

// Put is rejected: File is read-only, matching proxymap's read-only open
// flags (spec §4.1 "open the backend read-only").
func (f *File) Put(string, string) error {
	return fmt.Errorf("dict: %s is a read-only table", f.path)
}

// Del is rejected for the same reason as Put.
func (f *File) Del(string) error {
	return fmt.Errorf("dict: %s is a read-only table", f.path)
}

// Changed reports whether the backing file has been created, written, or
// renamed away since Open.
func (f *File) Changed() bool { return f.changed.Load() }

// Flags implements Dict.
func (f *File) Flags() Flag { return FlagFoldFix }

// LookupWithExtension looks up address the way a virtual delivery-agent
// map lookup does (original_source's virtual8_maps_find): the address
// with its recipient-extension stripped first, then the address
// verbatim, then an "@domain" catch-all. delim is the configured
// recipient-delimiter character; pass 0 to disable extension stripping.
func (f *File) LookupWithExtension(address string, delim byte) (string, bool, error) {
	return addrutil.LookupWithExtension(f, address, delim)
}

// Close stops the filesystem watch.
func (f *File) Close() error {
	if f.watcher != nil {
		return f.watcher.Close()
	}
	return nil
}
