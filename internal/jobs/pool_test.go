package jobs

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"
)

func collect(t *testing.T, results <-chan Result, n int) map[string]Result {
	t.Helper()
	got := make(map[string]Result, n)
	for i := 0; i < n; i++ {
		select {
		case res := <-results:
			got[res.UnitID] = res
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for result %d of %d", i+1, n)
		}
	}
	return got
}

func TestPoolDispatch(t *testing.T) {
	pool := NewPool(PoolConfig{Name: "test", Workers: 3})
	pool.RegisterHandler("double", func(_ context.Context, unit *WorkUnit) (any, error) {
		return unit.Payload.(int) * 2, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.Start(ctx)

	results := make(chan Result, 5)
	for i := 1; i <= 5; i++ {
		err := pool.Submit(&WorkUnit{
			ID:      fmt.Sprintf("unit-%d", i),
			Task:    "double",
			Payload: i,
			Results: results,
		})
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	got := collect(t, results, 5)
	for i := 1; i <= 5; i++ {
		res := got[fmt.Sprintf("unit-%d", i)]
		if res.Err != nil {
			t.Errorf("unit-%d: %v", i, res.Err)
		}
		if res.Value != i*2 {
			t.Errorf("unit-%d value = %v, want %d", i, res.Value, i*2)
		}
	}
}

func TestPoolHandlerError(t *testing.T) {
	pool := NewPool(PoolConfig{Name: "test", Workers: 1})
	boom := errors.New("boom")
	pool.RegisterHandler("fail", func(context.Context, *WorkUnit) (any, error) {
		return nil, boom
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.Start(ctx)

	results := make(chan Result, 1)
	if err := pool.Submit(&WorkUnit{ID: "u1", Task: "fail", Results: results}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	res := collect(t, results, 1)["u1"]
	if !errors.Is(res.Err, boom) {
		t.Errorf("got %v, want boom", res.Err)
	}
}

func TestPoolUnknownTask(t *testing.T) {
	pool := NewPool(PoolConfig{Name: "test", Workers: 1})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.Start(ctx)

	results := make(chan Result, 1)
	if err := pool.Submit(&WorkUnit{ID: "u1", Task: "nonsense", Results: results}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	res := collect(t, results, 1)["u1"]
	if res.Err == nil || !strings.Contains(res.Err.Error(), "no handler") {
		t.Errorf("got %v, want no-handler error", res.Err)
	}
}

func TestPoolRevokeBeforeStart(t *testing.T) {
	pool := NewPool(PoolConfig{Name: "test", Workers: 1})
	pool.RegisterHandler("noop", func(context.Context, *WorkUnit) (any, error) {
		return nil, nil
	})

	// Revoke before any worker runs, then start the pool: the unit must
	// come back revoked without the handler firing.
	results := make(chan Result, 1)
	if err := pool.Submit(&WorkUnit{ID: "u1", Task: "noop", Results: results}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	pool.Revoke("u1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.Start(ctx)

	res := collect(t, results, 1)["u1"]
	if !res.Revoked {
		t.Errorf("result = %+v, want revoked", res)
	}
}

func TestPoolDeliveryWaitsForSlowReader(t *testing.T) {
	pool := NewPool(PoolConfig{Name: "test", Workers: 1})
	pool.RegisterHandler("noop", func(_ context.Context, unit *WorkUnit) (any, error) {
		return unit.Payload, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.Start(ctx)

	// Undersized channel: the worker must wait for the reader instead of
	// dropping the second result.
	results := make(chan Result, 1)
	for i := 1; i <= 3; i++ {
		err := pool.Submit(&WorkUnit{
			ID:      fmt.Sprintf("unit-%d", i),
			Task:    "noop",
			Payload: i,
			Results: results,
		})
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	// Let the worker get ahead of the reader so the channel fills.
	time.Sleep(200 * time.Millisecond)

	got := collect(t, results, 3)
	if len(got) != 3 {
		t.Fatalf("received %d results, want 3", len(got))
	}
}

func TestPoolQueueFull(t *testing.T) {
	pool := NewPool(PoolConfig{Name: "test", Workers: 1, QueueSize: 1})
	// No workers running; the second submit must be refused, not block.
	if err := pool.Submit(&WorkUnit{ID: "u1", Task: "noop"}); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	if err := pool.Submit(&WorkUnit{ID: "u2", Task: "noop"}); err == nil {
		t.Fatal("second Submit succeeded, want queue-full error")
	}
}

func TestPartitionPages(t *testing.T) {
	tests := []struct {
		name   string
		pages  int
		chunks int
		want   []pageChunk
	}{
		{"even split", 10, 2, []pageChunk{{1, 5}, {6, 10}}},
		{"uneven split", 10, 3, []pageChunk{{1, 4}, {5, 8}, {9, 10}}},
		{"more chunks than pages", 2, 5, []pageChunk{{1, 1}, {2, 2}}},
		{"single chunk", 7, 1, []pageChunk{{1, 7}}},
		{"zero chunks clamps to one", 3, 0, []pageChunk{{1, 3}}},
		{"no pages", 0, 4, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := partitionPages(tc.pages, tc.chunks)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("partitionPages(%d, %d) = %v, want %v", tc.pages, tc.chunks, got, tc.want)
			}
		})
	}
}
