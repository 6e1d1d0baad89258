package gate

import (
	"context"
	"sync"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestSubmitRunsAndReturnsValue(t *testing.T) {
	g := New(rate.Inf, 1)
	v, err := g.Submit(context.Background(), PriorityNormal, func(ctx context.Context) (interface{}, error) {
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "ok" {
		t.Errorf("expected ok, got %v", v)
	}
}

func TestSubmitRunsHighPriorityBeforeLowPriority(t *testing.T) {
	g := New(rate.Inf, 1)

	var mu sync.Mutex
	var order []string
	block := make(chan struct{})

	// Occupy the single in-flight slot so both subsequent submissions queue
	// up before either can run, making ordering deterministic.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		g.Submit(context.Background(), PriorityNormal, func(ctx context.Context) (interface{}, error) {
			<-block
			return nil, nil
		})
	}()
	time.Sleep(20 * time.Millisecond)

	wg.Add(2)
	go func() {
		defer wg.Done()
		g.Submit(context.Background(), PriorityLow, func(ctx context.Context) (interface{}, error) {
			mu.Lock()
			order = append(order, "low")
			mu.Unlock()
			return nil, nil
		})
	}()
	time.Sleep(10 * time.Millisecond)
	go func() {
		defer wg.Done()
		g.Submit(context.Background(), PriorityHigh, func(ctx context.Context) (interface{}, error) {
			mu.Lock()
			order = append(order, "high")
			mu.Unlock()
			return nil, nil
		})
	}()
	time.Sleep(10 * time.Millisecond)

	close(block)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "high" {
		t.Fatalf("expected high priority to run first, got %v", order)
	}
}

func TestDrainAbortsPendingRequests(t *testing.T) {
	g := New(rate.Inf, 1)
	block := make(chan struct{})

	go g.Submit(context.Background(), PriorityNormal, func(ctx context.Context) (interface{}, error) {
		<-block
		return nil, nil
	})
	time.Sleep(20 * time.Millisecond)

	done := make(chan error, 1)
	go func() {
		_, err := g.Submit(context.Background(), PriorityLow, func(ctx context.Context) (interface{}, error) {
			return nil, nil
		})
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)

	g.Drain()
	close(block)

	select {
	case err := <-done:
		if err != ErrAborted {
			t.Errorf("expected ErrAborted, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for drained request")
	}
}
