package logstream

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hochfrequenz/codex-orchestrator/internal/logger"
)

// Tailer follows log files by polling. Filesystem notifications, when
// enabled, only trigger an earlier poll; the poll is what reads the file.
type Tailer struct {
	interval time.Duration
	notify   bool
	log      *logger.Logger
}

// NewTailer creates a Tailer polling every interval.
func NewTailer(interval time.Duration, notify bool, log *logger.Logger) *Tailer {
	if interval <= 0 {
		interval = time.Second
	}
	if log == nil {
		log = logger.Default()
	}
	return &Tailer{interval: interval, notify: notify, log: log.WithComponent("logstream")}
}

// Subscribe streams entries appended to path after this call. Entry ids
// continue from the number of lines already present. The channel closes
// when ctx is done.
func (t *Tailer) Subscribe(ctx context.Context, path string) <-chan Entry {
	sub := &subscription{path: path}
	if data, err := os.ReadFile(path); err == nil {
		sub.pos = int64(len(data))
		sub.count = len(Lines(string(data)))
	}

	out := make(chan Entry, 64)
	go t.run(ctx, sub, out)
	return out
}

type subscription struct {
	path    string
	pos     int64
	count   int
	partial []byte
}

func (t *Tailer) run(ctx context.Context, sub *subscription, out chan<- Entry) {
	defer close(out)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	var wake <-chan fsnotify.Event
	if t.notify {
		if w, err := t.watch(sub.path); err == nil {
			defer w.Close()
			wake = w.Events
		} else {
			t.log.Debug("fsnotify unavailable, polling only", zap.Error(err))
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case ev, ok := <-wake:
			if !ok {
				wake = nil
				continue
			}
			if filepath.Clean(ev.Name) != filepath.Clean(sub.path) || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
		}

		for _, e := range sub.poll() {
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}
	}
}

// watch observes the parent directory so a log file created later is seen too.
func (t *Tailer) watch(path string) (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, err
	}
	// errors are irrelevant: polling continues regardless
	go func() {
		for range w.Errors {
		}
	}()
	return w, nil
}

// poll reads the bytes appended since the last poll and returns complete lines.
func (s *subscription) poll() []Entry {
	f, err := os.Open(s.path)
	if err != nil {
		return nil
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil || fi.Size() <= s.pos {
		return nil
	}

	chunk := make([]byte, fi.Size()-s.pos)
	n, err := f.ReadAt(chunk, s.pos)
	if err != nil && err != io.EOF {
		return nil
	}
	chunk = chunk[:n]
	s.pos += int64(n)

	buf := append(s.partial, chunk...)
	last := bytes.LastIndexByte(buf, '\n')
	if last < 0 {
		s.partial = buf
		return nil
	}
	s.partial = append([]byte(nil), buf[last+1:]...)

	var entries []Entry
	for _, line := range Lines(string(buf[:last])) {
		s.count++
		entries = append(entries, ParseLine(s.count, line))
	}
	return entries
}
