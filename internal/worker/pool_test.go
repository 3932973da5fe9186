package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockImporter writes len(path) records per task after delay.
type mockImporter struct {
	delay     time.Duration
	failPaths map[string]bool
	calls     atomic.Int32
	inFlight  atomic.Int32
	peak      atomic.Int32
}

func (m *mockImporter) Import(ctx context.Context, task Task) (int, error) {
	m.calls.Add(1)
	n := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		p := m.peak.Load()
		if n <= p || m.peak.CompareAndSwap(p, n) {
			break
		}
	}

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-time.After(m.delay):
	}

	if m.failPaths[task.Path] {
		return 0, errors.New("simulated failure")
	}
	return len(task.Path), nil
}

func polygonTasks(paths ...string) []Task {
	tasks := make([]Task, len(paths))
	for i, p := range paths {
		tasks[i] = Task{Kind: KindPolygons, Path: p}
	}
	return tasks
}

func TestPool_ImportsEveryTask(t *testing.T) {
	imp := &mockImporter{delay: 5 * time.Millisecond}
	pool := New(Config{Workers: 2, Importer: imp})

	tasks := []Task{
		{Kind: KindOrganizations, Path: "organizations.json"},
		{Kind: KindPolygons, Path: "land.geojson"},
		{Kind: KindLayer, Path: "wdpa.geojson", Name: "protected"},
	}
	results := pool.Run(context.Background(), tasks)

	require.Len(t, results, len(tasks))
	seen := map[Kind]bool{}
	for _, r := range results {
		assert.NoError(t, r.Err, r.Task.Path)
		assert.Equal(t, len(r.Task.Path), r.Records, r.Task.Path)
		assert.Positive(t, r.Elapsed)
		seen[r.Task.Kind] = true
	}
	assert.Len(t, seen, 3)
	assert.EqualValues(t, len(tasks), imp.calls.Load())
}

func TestPool_RunsWorkersConcurrently(t *testing.T) {
	imp := &mockImporter{delay: 30 * time.Millisecond}
	pool := New(Config{Workers: 4, Importer: imp})

	results := pool.Run(context.Background(), polygonTasks("1", "2", "3", "4", "5", "6", "7", "8"))

	assert.Len(t, results, 8)
	assert.Greater(t, imp.peak.Load(), int32(1))
	assert.LessOrEqual(t, imp.peak.Load(), int32(4))
}

func TestPool_DefaultsToOneWorker(t *testing.T) {
	imp := &mockImporter{delay: time.Millisecond}
	pool := New(Config{Workers: 0, Importer: imp})

	results := pool.Run(context.Background(), polygonTasks("a", "b", "c"))

	assert.Len(t, results, 3)
	assert.EqualValues(t, 1, imp.peak.Load())
}

func TestPool_FailuresAreReportedPerTask(t *testing.T) {
	imp := &mockImporter{failPaths: map[string]bool{"broken.geojson": true}}
	pool := New(Config{Workers: 2, Importer: imp})

	results := pool.Run(context.Background(), polygonTasks("a.geojson", "broken.geojson", "c.geojson"))

	require.Len(t, results, 3)
	var failed []string
	for _, r := range results {
		if r.Err != nil {
			failed = append(failed, r.Task.Path)
			assert.Zero(t, r.Records)
		}
	}
	assert.Equal(t, []string{"broken.geojson"}, failed)
}

func TestPool_CancelStopsFeeding(t *testing.T) {
	imp := &mockImporter{delay: 100 * time.Millisecond}
	pool := New(Config{Workers: 2, Importer: imp})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	tasks := polygonTasks("1", "2", "3", "4", "5", "6", "7", "8", "9", "10")
	start := time.Now()
	results := pool.Run(ctx, tasks)

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Less(t, int(imp.calls.Load()), len(tasks))

	cancelled := 0
	for _, r := range results {
		if errors.Is(r.Err, context.Canceled) {
			cancelled++
		}
	}
	assert.Positive(t, cancelled)
}

func TestPool_ProgressSeesEveryResult(t *testing.T) {
	var (
		calls    int
		records  int
		lastDone int
	)
	pool := New(Config{
		Workers:  3,
		Importer: &mockImporter{delay: time.Millisecond},
		OnProgress: func(r Result, completed, total int) {
			calls++
			records += r.Records
			lastDone = completed
			assert.Equal(t, 3, total)
		},
	})

	pool.Run(context.Background(), polygonTasks("a", "bb", "ccc"))

	assert.Equal(t, 3, calls)
	assert.Equal(t, 6, records)
	assert.Equal(t, 3, lastDone)
}

func TestPool_NoTasks(t *testing.T) {
	imp := &mockImporter{}
	pool := New(Config{Workers: 2, Importer: imp})

	assert.Empty(t, pool.Run(context.Background(), nil))
	assert.Zero(t, imp.calls.Load())
}
