package hierarchy_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/dukex/hierarchy-killer/pkg/hierarchy"
	"github.com/dukex/hierarchy-killer/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_GetReturnsCopy(t *testing.T) {
	store := hierarchy.NewStore()
	store.Put("parent", models.NewRunRecord(models.Policy{Enabled: true}, nil))
	store.Put("child", models.NewRunRecord(models.Policy{Enabled: true}, nil))

	_, ok := store.Link("child", "parent")
	require.True(t, ok)

	record, ok := store.Get("parent")
	require.True(t, ok)

	record.Downstream = append(record.Downstream, "intruder")
	record.AbortReason = "changed"

	again, ok := store.Get("parent")
	require.True(t, ok)
	assert.Equal(t, []models.RunID{"child"}, again.Downstream)
	assert.Empty(t, again.AbortReason)
}

func TestStore_LinkRequiresBothEnds(t *testing.T) {
	store := hierarchy.NewStore()
	store.Put("child", models.NewRunRecord(models.Policy{Enabled: true}, nil))

	_, ok := store.Link("child", "parent")
	assert.False(t, ok)

	child, ok := store.Get("child")
	require.True(t, ok)
	assert.Empty(t, child.Upstream)

	_, ok = store.Link("missing", "child")
	assert.False(t, ok)
}

func TestStore_LinkKeepsRegistrationOrder(t *testing.T) {
	store := hierarchy.NewStore()
	store.Put("parent", models.NewRunRecord(models.Policy{Enabled: true}, nil))

	for _, child := range []models.RunID{"c1", "c2", "c3"} {
		store.Put(child, models.NewRunRecord(models.Policy{Enabled: true}, nil))
		_, ok := store.Link(child, "parent")
		require.True(t, ok)
	}

	parent, ok := store.Get("parent")
	require.True(t, ok)
	assert.Equal(t, []models.RunID{"c1", "c2", "c3"}, parent.Downstream)

	child, ok := store.Get("c2")
	require.True(t, ok)
	assert.Equal(t, []models.RunID{"parent"}, child.UpstreamRuns())
}

func TestStore_MarkAbortedFirstReasonWins(t *testing.T) {
	store := hierarchy.NewStore()
	store.Put("run", models.NewRunRecord(models.Policy{Enabled: true}, nil))

	assert.True(t, store.MarkAborted("run", ", caused by a"))
	assert.False(t, store.MarkAborted("run", ", caused by b"))
	assert.False(t, store.MarkAborted("missing", ", caused by a"))

	record, ok := store.Get("run")
	require.True(t, ok)
	assert.Equal(t, ", caused by a", record.AbortReason)
}

func TestStore_RemoveAndClear(t *testing.T) {
	store := hierarchy.NewStore()
	store.Put("a", models.NewRunRecord(models.Policy{}, nil))
	store.Put("b", models.NewRunRecord(models.Policy{}, nil))
	assert.Equal(t, 2, store.Size())

	store.Remove("a")
	store.Remove("a")
	assert.Equal(t, 1, store.Size())

	_, ok := store.Get("a")
	assert.False(t, ok)

	store.Clear()
	assert.Equal(t, 0, store.Size())
}

func TestStore_ReleaseAbort(t *testing.T) {
	store := hierarchy.NewStore()
	store.Put("run", models.NewRunRecord(models.Policy{Enabled: true}, nil))

	require.True(t, store.MarkAborted("run", ", caused by a"))

	store.ReleaseAbort("run", ", caused by other")
	assert.False(t, store.MarkAborted("run", ", caused by b"))

	store.ReleaseAbort("run", ", caused by a")
	store.ReleaseAbort("missing", ", caused by a")
	assert.True(t, store.MarkAborted("run", ", caused by b"))

	record, ok := store.Get("run")
	require.True(t, ok)
	assert.Equal(t, ", caused by b", record.AbortReason)
}

func TestStore_PutAtRefusesStaleGenerations(t *testing.T) {
	store := hierarchy.NewStore()
	record := models.NewRunRecord(models.Policy{Enabled: true}, nil)

	stale := store.Generation()
	store.Clear()
	assert.False(t, store.PutAt(stale, "a", record))

	current := store.Generation()
	store.SetEnabled(false)
	assert.False(t, store.PutAt(store.Generation(), "a", record))

	store.SetEnabled(true)
	assert.False(t, store.PutAt(current, "a", record))
	assert.True(t, store.PutAt(store.Generation(), "a", record))
	assert.Equal(t, 1, store.Size())
}

func TestStore_ConcurrentAccess(t *testing.T) {
	store := hierarchy.NewStore()
	store.Put("parent", models.NewRunRecord(models.Policy{Enabled: true}, nil))

	var wg sync.WaitGroup

	for i := range 100 {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			id := models.RunID(fmt.Sprintf("child-%d", i))
			store.Put(id, models.NewRunRecord(models.Policy{Enabled: true}, nil))
			store.Link(id, "parent")
			store.MarkAborted(id, "reason")
			store.Get("parent")

			if i%2 == 0 {
				store.Remove(id)
			}
		}(i)
	}

	wg.Wait()

	parent, ok := store.Get("parent")
	require.True(t, ok)
	assert.Len(t, parent.Downstream, 100)
	assert.Equal(t, 51, store.Size())
}
