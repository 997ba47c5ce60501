package asyncqueue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPool_RunsSubmittedTasks(t *testing.T) {
	p := New(Config{Name: "test", Workers: 4, QueueSize: 16})
	p.Start()
	defer p.Stop()

	var wg sync.WaitGroup
	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		if !p.Submit(func(ctx context.Context) {
			defer wg.Done()
			ran.Add(1)
		}) {
			t.Fatal("Submit should accept task")
		}
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tasks did not run")
	}
	if ran.Load() != 10 {
		t.Fatalf("expected 10 tasks, got %d", ran.Load())
	}
}

func TestPool_SubmitFullQueue(t *testing.T) {
	p := New(Config{Workers: 1, QueueSize: 2})
	p.Start()
	defer p.Stop()

	// Occupy the only worker so nothing drains the queue.
	release := make(chan struct{})
	busy := make(chan struct{})
	if !p.Submit(func(context.Context) { close(busy); <-release }) {
		t.Fatal("Submit should accept the first task")
	}
	<-busy
	defer close(release)

	noop := func(context.Context) {}
	if !p.Submit(noop) || !p.Submit(noop) {
		t.Fatal("queue should accept up to its size")
	}
	if p.Submit(noop) {
		t.Fatal("Submit should reject when the queue is full")
	}
	if p.Pending() != 2 {
		t.Fatalf("expected 2 pending, got %d", p.Pending())
	}
}

func TestPool_SubmitBeforeStartRejected(t *testing.T) {
	p := New(Config{Workers: 1, QueueSize: 4})

	var ran atomic.Int32
	if p.Submit(func(context.Context) { ran.Add(1) }) {
		t.Fatal("Submit before Start must be rejected")
	}
	if p.Pending() != 0 {
		t.Fatalf("expected nothing queued, got %d", p.Pending())
	}

	// Stopping a never-started pool must not strand any accepted work.
	p.Stop()
	if ran.Load() != 0 {
		t.Fatalf("rejected task must not run, ran %d", ran.Load())
	}
}

func TestPool_PanicDoesNotKillWorker(t *testing.T) {
	p := New(Config{Workers: 1, QueueSize: 4})
	p.Start()
	defer p.Stop()

	p.Submit(func(context.Context) { panic("loader exploded") })

	done := make(chan struct{})
	p.Submit(func(context.Context) { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive a panicking task")
	}
}

func TestPool_StopDrainsAndRejects(t *testing.T) {
	p := New(Config{Workers: 2, QueueSize: 8})
	p.Start()

	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		p.Submit(func(context.Context) {
			time.Sleep(10 * time.Millisecond)
			ran.Add(1)
		})
	}
	p.Stop()

	if ran.Load() != 5 {
		t.Fatalf("expected queued tasks to drain on Stop, got %d", ran.Load())
	}
	if p.Submit(func(context.Context) {}) {
		t.Fatal("Submit after Stop must be rejected")
	}
	// Double stop should be safe
	p.Stop()
}
