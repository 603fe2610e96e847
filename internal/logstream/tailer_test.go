package logstream

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hochfrequenz/codex-orchestrator/internal/logger"
)

func appendTo(t *testing.T, path, s string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(s)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func receive(t *testing.T, ch <-chan Entry, n int) []Entry {
	t.Helper()
	var got []Entry
	timeout := time.After(5 * time.Second)
	for len(got) < n {
		select {
		case e, ok := <-ch:
			if !ok {
				t.Fatalf("channel closed after %d entries", len(got))
			}
			got = append(got, e)
		case <-timeout:
			t.Fatalf("timed out after %d of %d entries", len(got), n)
		}
	}
	return got
}

func assertQuiet(t *testing.T, ch <-chan Entry, d time.Duration) {
	t.Helper()
	select {
	case e := <-ch:
		t.Fatalf("unexpected entry %+v", e)
	case <-time.After(d):
	}
}

func TestTailer_SkipsExistingContent(t *testing.T) {
	for _, notify := range []bool{false, true} {
		t.Run(map[bool]string{false: "poll", true: "notify"}[notify], func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "run-001.jsonl")
			appendTo(t, path, "{\"type\":\"old\"}\nold text\n")

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			ch := NewTailer(20*time.Millisecond, notify, logger.Nop()).Subscribe(ctx, path)

			appendTo(t, path, "{\"type\":\"new\"}\nnew text\n")

			got := receive(t, ch, 2)
			assert.Equal(t, "log-3", got[0].ID)
			assert.Equal(t, "new", got[0].Type)
			assert.Equal(t, "log-4", got[1].ID)
			assert.Equal(t, "new text", got[1].Raw)
			assertQuiet(t, ch, 100*time.Millisecond)
		})
	}
}

func TestTailer_RawMatchesReadAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run-001.jsonl")
	appendTo(t, path, "first\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := NewTailer(10*time.Millisecond, false, logger.Nop()).Subscribe(ctx, path)

	appendTo(t, path, "  indented line  \r\n\t\r\n{\"type\":\"x\"}\r\n")
	live := receive(t, ch, 2)

	all, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, all[1:], live)
	assert.Equal(t, "  indented line  ", live[0].Raw)
}

func TestTailer_OrderAndPartialLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run-001.jsonl")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := NewTailer(10*time.Millisecond, false, logger.Nop()).Subscribe(ctx, path)

	// file does not exist yet
	time.Sleep(30 * time.Millisecond)
	appendTo(t, path, "{\"type\":\"a\"}\n{\"ty")
	first := receive(t, ch, 1)
	assert.Equal(t, "a", first[0].Type)

	// the partial record is held back until completed
	assertQuiet(t, ch, 60*time.Millisecond)

	appendTo(t, path, "pe\":\"b\"}\n\n{\"type\":\"c\"}\n")
	rest := receive(t, ch, 2)
	assert.Equal(t, "log-2", rest[0].ID)
	assert.Equal(t, "b", rest[0].Type)
	assert.Equal(t, "log-3", rest[1].ID)
	assert.Equal(t, "c", rest[1].Type)
}

func TestTailer_ManyLinesInFileOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run-001.jsonl")
	appendTo(t, path, "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := NewTailer(5*time.Millisecond, true, logger.Nop()).Subscribe(ctx, path)

	const n = 200
	go func() {
		for i := 0; i < n; i++ {
			f, _ := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
			f.WriteString("line\n")
			f.Close()
		}
	}()

	got := receive(t, ch, n)
	for i, e := range got {
		assert.Equal(t, ParseLine(i+1, "line").ID, e.ID)
	}
}

func TestTailer_IndependentSubscriptions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run-001.jsonl")
	tailer := NewTailer(10*time.Millisecond, false, logger.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	early := tailer.Subscribe(ctx, path)
	appendTo(t, path, "one\n")
	receive(t, early, 1)

	late := tailer.Subscribe(ctx, path)
	appendTo(t, path, "two\n")

	e1 := receive(t, early, 1)
	e2 := receive(t, late, 1)
	assert.Equal(t, "two", e1[0].Raw)
	assert.Equal(t, "log-2", e1[0].ID)
	assert.Equal(t, "two", e2[0].Raw)
	assert.Equal(t, "log-2", e2[0].ID)
}

func TestTailer_ClosesOnCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run-001.jsonl")
	ctx, cancel := context.WithCancel(context.Background())
	ch := NewTailer(10*time.Millisecond, true, logger.Nop()).Subscribe(ctx, path)

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not close")
	}
}
