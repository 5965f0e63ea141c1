package watch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, db *Debouncer) []FileEvent {
	t.Helper()
	var out []FileEvent
	for {
		select {
		case ev := <-db.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestConsecutiveModifiedsCollapseToOne(t *testing.T) {
	db := NewDebouncer(time.Minute)
	now := time.Now()
	db.Feed(FileEvent{Kind: Modified, Path: "/a.md", Timestamp: now, Size: 10})
	db.Feed(FileEvent{Kind: Modified, Path: "/a.md", Timestamp: now.Add(time.Millisecond), Size: 12})
	db.Feed(FileEvent{Kind: Modified, Path: "/a.md", Timestamp: now.Add(2 * time.Millisecond), Size: 14})
	db.Flush()

	events := drain(t, db)
	require.Len(t, events, 1)
	assert.Equal(t, Modified, events[0].Kind)
}

func TestCreatedThenModifiedCollapsesToCreated(t *testing.T) {
	db := NewDebouncer(time.Minute)
	now := time.Now()
	db.Feed(FileEvent{Kind: Created, Path: "/a.md", Timestamp: now, Size: 5})
	db.Feed(FileEvent{Kind: Modified, Path: "/a.md", Timestamp: now.Add(time.Millisecond), Size: 8})
	db.Flush()

	events := drain(t, db)
	require.Len(t, events, 1)
	assert.Equal(t, Created, events[0].Kind)
}

func TestCreatedThenDeletedCancelsThePair(t *testing.T) {
	db := NewDebouncer(time.Minute)
	now := time.Now()
	db.Feed(FileEvent{Kind: Created, Path: "/a.md", Timestamp: now, Size: 5})
	db.Feed(FileEvent{Kind: Deleted, Path: "/a.md", Timestamp: now.Add(time.Millisecond)})
	db.Flush()

	events := drain(t, db)
	assert.Empty(t, events)
}

func TestDeletedThenCreatedWithMatchingSizeIsAttributedAsMoved(t *testing.T) {
	db := NewDebouncer(time.Minute)
	now := time.Now()
	db.Feed(FileEvent{Kind: Modified, Path: "/old.md", Timestamp: now, Size: 42})
	db.Flush() // settle the Modified so the next Deleted isn't seen as Created->Deleted
	drain(t, db)
	db.Feed(FileEvent{Kind: Deleted, Path: "/old.md", Timestamp: now.Add(time.Millisecond)})
	db.Feed(FileEvent{Kind: Created, Path: "/new.md", Timestamp: now.Add(2 * time.Millisecond), Size: 42})
	db.Flush()

	events := drain(t, db)
	require.Len(t, events, 1)
	assert.Equal(t, Moved, events[0].Kind)
	assert.Equal(t, "/old.md", events[0].FromPath)
	assert.Equal(t, "/new.md", events[0].Path)
}

func TestUnrelatedPathsFlushIndependently(t *testing.T) {
	db := NewDebouncer(time.Minute)
	now := time.Now()
	db.Feed(FileEvent{Kind: Modified, Path: "/a.md", Timestamp: now, Size: 1})
	db.Feed(FileEvent{Kind: Created, Path: "/b.md", Timestamp: now, Size: 2})
	db.Flush()

	events := drain(t, db)
	assert.Len(t, events, 2)
}
