package source

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reports act documents that appear or change under a
// <root>/<year>/<seq>.pdf (or .jsonl) tree.
type Watcher struct {
	Root    string
	Changes <-chan ManifestEntry

	changes  chan ManifestEntry
	done     chan struct{}
	watcher  *fsnotify.Watcher
	debounce time.Duration
}

// NewWatcher creates a watcher for root. Events for one file are merged
// until it has been quiet for debounce.
func NewWatcher(root string, debounce time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	ch := make(chan ManifestEntry, 16)
	return &Watcher{
		Root:     root,
		Changes:  ch,
		changes:  ch,
		done:     make(chan struct{}),
		watcher:  fw,
		debounce: debounce,
	}, nil
}

// Start watches the root and every year directory below it.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(w.Root); err != nil {
		return err
	}
	entries, err := os.ReadDir(w.Root)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if _, err := strconv.Atoi(e.Name()); e.IsDir() && err == nil {
			if err := w.watcher.Add(filepath.Join(w.Root, e.Name())); err != nil {
				return err
			}
		}
	}

	go w.loop()
	return nil
}

// Stop closes the watcher and the Changes channel.
func (w *Watcher) Stop() {
	w.watcher.Close()
	<-w.done
	close(w.changes)
}

func (w *Watcher) loop() {
	defer close(w.done)

	pending := make(map[string]time.Time)
	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				for file := range pending {
					w.emit(file)
				}
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			// New year directories are watched as they appear.
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				if filepath.Dir(event.Name) == filepath.Clean(w.Root) {
					_ = w.watcher.Add(event.Name)
				}
				continue
			}
			if _, ok := ParseActPath(event.Name); ok {
				pending[event.Name] = time.Now()
			}

		case <-ticker.C:
			now := time.Now()
			for file, t := range pending {
				if now.Sub(t) >= w.debounce {
					w.emit(file)
					delete(pending, file)
				}
			}

		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *Watcher) emit(file string) {
	if _, err := os.Stat(file); err != nil {
		return
	}
	if entry, ok := ParseActPath(file); ok {
		w.changes <- entry
	}
}

// ParseActPath derives a manifest entry from a <year>/<seq>.pdf or
// <year>/<seq>.jsonl path.
func ParseActPath(path string) (ManifestEntry, bool) {
	name := filepath.Base(path)
	ext := strings.ToLower(filepath.Ext(name))
	if ext != ".pdf" && ext != ".jsonl" {
		return ManifestEntry{}, false
	}
	seq, err := strconv.Atoi(strings.TrimSuffix(name, filepath.Ext(name)))
	if err != nil {
		return ManifestEntry{}, false
	}
	year, err := strconv.Atoi(filepath.Base(filepath.Dir(path)))
	if err != nil {
		return ManifestEntry{}, false
	}
	return ManifestEntry{
		ActID:  ActID(year, seq),
		Year:   year,
		Seq:    seq,
		Path:   path,
		Status: "raw",
	}, true
}
