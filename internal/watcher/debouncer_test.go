package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan []FileEvent, timeout time.Duration) []FileEvent {
	t.Helper()
	select {
	case batch, ok := <-ch:
		require.True(t, ok, "channel closed")
		return batch
	case <-time.After(timeout):
		t.Fatal("timeout waiting for batch")
		return nil
	}
}

func TestDebouncer_CoalescesRepeatedModifies(t *testing.T) {
	// Given a debouncer
	d := NewDebouncer(30*time.Millisecond, nil)
	defer d.Stop()

	// When the same file is modified several times in quick succession
	for i := 0; i < 5; i++ {
		d.Add(FileEvent{Path: "a.go", Operation: OpModify})
	}

	// Then one event comes out
	batch := receive(t, d.Output(), time.Second)
	require.Len(t, batch, 1)
	assert.Equal(t, OpModify, batch[0].Operation)
}

func TestDebouncer_MergeRules(t *testing.T) {
	tests := []struct {
		name  string
		first Operation
		then  Operation
		want  Operation
	}{
		{"create then modify stays create", OpCreate, OpModify, OpCreate},
		{"modify then delete is delete", OpModify, OpDelete, OpDelete},
		{"delete then create is modify", OpDelete, OpCreate, OpModify},
		{"modify then create keeps latest", OpModify, OpCreate, OpCreate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDebouncer(20*time.Millisecond, nil)
			defer d.Stop()

			d.Add(FileEvent{Path: "x.go", Operation: tt.first})
			d.Add(FileEvent{Path: "x.go", Operation: tt.then})

			batch := receive(t, d.Output(), time.Second)
			require.Len(t, batch, 1)
			assert.Equal(t, tt.want, batch[0].Operation)
		})
	}
}

func TestDebouncer_CreateThenDeleteCancels(t *testing.T) {
	// Given a file created and deleted within the window, plus another change
	d := NewDebouncer(20*time.Millisecond, nil)
	defer d.Stop()
	d.Add(FileEvent{Path: "tmp.go", Operation: OpCreate})
	d.Add(FileEvent{Path: "tmp.go", Operation: OpDelete})
	d.Add(FileEvent{Path: "kept.go", Operation: OpModify})

	// Then only the other change is emitted
	batch := receive(t, d.Output(), time.Second)
	require.Len(t, batch, 1)
	assert.Equal(t, "kept.go", batch[0].Path)
}

func TestDebouncer_BatchSortedByPath(t *testing.T) {
	d := NewDebouncer(20*time.Millisecond, nil)
	defer d.Stop()
	for _, p := range []string{"c.go", "a.go", "b.go"} {
		d.Add(FileEvent{Path: p, Operation: OpCreate})
	}

	batch := receive(t, d.Output(), time.Second)
	require.Len(t, batch, 3)
	assert.Equal(t, []string{"a.go", "b.go", "c.go"},
		[]string{batch[0].Path, batch[1].Path, batch[2].Path})
}

func TestDebouncer_StopClosesOutputAndIgnoresAdds(t *testing.T) {
	d := NewDebouncer(time.Hour, nil)
	d.Add(FileEvent{Path: "a.go", Operation: OpCreate})

	d.Stop()
	d.Stop()
	d.Add(FileEvent{Path: "b.go", Operation: OpCreate})

	_, ok := <-d.Output()
	assert.False(t, ok)
}
