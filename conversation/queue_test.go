package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tokoroten/noveldrive/types"
)

func TestTurnQueue_DrainsInOrder(t *testing.T) {
	q := NewTurnQueue(context.Background(), zap.NewNop())

	var mu sync.Mutex
	var seen []string
	done := make(chan struct{})
	q.SetHandler(func(ctx context.Context, req types.TurnRequest) error {
		mu.Lock()
		seen = append(seen, req.AgentID)
		n := len(seen)
		mu.Unlock()
		if n == 3 {
			close(done)
		}
		return nil
	})

	q.Enqueue(types.TurnRequest{AgentID: "a", SessionID: "s"})
	q.Enqueue(types.TurnRequest{AgentID: "b", SessionID: "s"})
	q.Enqueue(types.TurnRequest{AgentID: "c", SessionID: "s"})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("queue did not drain")
	}
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"a", "b", "c"}, seen)
}

func TestTurnQueue_SingleFlight(t *testing.T) {
	q := NewTurnQueue(context.Background(), zap.NewNop())

	var mu sync.Mutex
	active, maxActive, handled := 0, 0, 0
	done := make(chan struct{})
	const total = 20

	q.SetHandler(func(ctx context.Context, req types.TurnRequest) error {
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()

		time.Sleep(time.Millisecond)

		mu.Lock()
		active--
		handled++
		if handled == total {
			close(done)
		}
		mu.Unlock()
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Enqueue(types.TurnRequest{AgentID: "a", SessionID: "s"})
		}()
	}
	wg.Wait()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("queue did not drain")
	}
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, maxActive, "turns must never overlap")
}

func TestTurnQueue_HandlerErrorDoesNotStopDraining(t *testing.T) {
	q := NewTurnQueue(context.Background(), zap.NewNop())

	done := make(chan string, 2)
	q.SetHandler(func(ctx context.Context, req types.TurnRequest) error {
		done <- req.AgentID
		if req.AgentID == "boom" {
			return errors.New("handler failure")
		}
		return nil
	})

	q.Enqueue(types.TurnRequest{AgentID: "boom", SessionID: "s"})
	q.Enqueue(types.TurnRequest{AgentID: "after", SessionID: "s"})

	require.Equal(t, "boom", <-done)
	require.Equal(t, "after", <-done)
}

func TestTurnQueue_HandlerPanicIsRecovered(t *testing.T) {
	q := NewTurnQueue(context.Background(), zap.NewNop())

	done := make(chan string, 2)
	q.SetHandler(func(ctx context.Context, req types.TurnRequest) error {
		done <- req.AgentID
		if req.AgentID == "panic" {
			panic("boom")
		}
		return nil
	})

	q.Enqueue(types.TurnRequest{AgentID: "panic", SessionID: "s"})
	q.Enqueue(types.TurnRequest{AgentID: "after", SessionID: "s"})

	require.Equal(t, "panic", <-done)
	require.Equal(t, "after", <-done)
}

func TestTurnQueue_ClearDropsPending(t *testing.T) {
	q := NewTurnQueue(context.Background(), zap.NewNop())

	release := make(chan struct{})
	var mu sync.Mutex
	var seen []string
	q.SetHandler(func(ctx context.Context, req types.TurnRequest) error {
		mu.Lock()
		seen = append(seen, req.AgentID)
		mu.Unlock()
		if req.AgentID == "first" {
			<-release
		}
		return nil
	})

	q.Enqueue(types.TurnRequest{AgentID: "first", SessionID: "s"})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	}, time.Second, time.Millisecond)

	q.Enqueue(types.TurnRequest{AgentID: "dropped", SessionID: "s"})
	q.Clear()
	close(release)

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"first"}, seen)
}

func TestTurnQueue_LengthObserver(t *testing.T) {
	q := NewTurnQueue(context.Background(), zap.NewNop())

	var mu sync.Mutex
	var lengths []int
	q.SetLengthObserver(func(n int) {
		mu.Lock()
		lengths = append(lengths, n)
		mu.Unlock()
	})

	block := make(chan struct{})
	handled := make(chan struct{}, 3)
	q.SetHandler(func(ctx context.Context, req types.TurnRequest) error {
		<-block
		handled <- struct{}{}
		return nil
	})

	q.Enqueue(types.TurnRequest{AgentID: "a", SessionID: "s"})
	q.Enqueue(types.TurnRequest{AgentID: "b", SessionID: "s"})
	close(block)
	<-handled
	<-handled

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, lengths)
	require.Equal(t, 0, lengths[len(lengths)-1])
}
