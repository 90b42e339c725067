package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/garyjia/procurement-workflow/internal/domain/event"
)

type mockLogger struct {
	mu     sync.Mutex
	infos  []string
	errors []string
}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infos = append(m.infos, msg)
}

func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, msg)
}

func (m *mockLogger) ErrorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.errors)
}

func (m *mockLogger) HasInfo(msg string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, info := range m.infos {
		if info == msg {
			return true
		}
	}
	return false
}

func newEvt(t event.Type) *event.Event {
	return event.NewEvent(t, "inst-1", nil)
}

func noop(ctx context.Context, evt *event.Event) error { return nil }

func TestSubscribe(t *testing.T) {
	t.Run("runs handlers in registration order", func(t *testing.T) {
		d := NewDispatcher()
		var order []int
		d.Subscribe(event.TypeInstanceCreated, func(ctx context.Context, evt *event.Event) error {
			order = append(order, 1)
			return nil
		})
		d.Subscribe(event.TypeInstanceCreated, func(ctx context.Context, evt *event.Event) error {
			order = append(order, 2)
			return nil
		})

		if err := d.Dispatch(context.Background(), newEvt(event.TypeInstanceCreated)); err != nil {
			t.Fatalf("dispatch failed: %v", err)
		}
		if len(order) != 2 || order[0] != 1 || order[1] != 2 {
			t.Errorf("expected handlers to run in order [1, 2], got %v", order)
		}
	})

	t.Run("generated names are unique per type", func(t *testing.T) {
		d := NewDispatcher()
		d.Subscribe(event.TypeStepDecided, noop)
		d.Subscribe(event.TypeStepDecided, noop)

		handlers := d.ListHandlers(event.TypeStepDecided)
		if len(handlers) != 2 || handlers[0].Name == handlers[1].Name {
			t.Errorf("expected two distinct handler names, got %+v", handlers)
		}
	})

	t.Run("logs registration", func(t *testing.T) {
		logger := &mockLogger{}
		d := NewDispatcher(WithLogger(logger))
		d.SubscribeNamed(event.TypeInstanceCreated, "metrics", noop)
		if !logger.HasInfo("Handler registered") {
			t.Error("expected registration to be logged")
		}
	})
}

func TestSubscribe_AnyType(t *testing.T) {
	d := NewDispatcher()
	var seen []string

	d.SubscribeNamed(AnyType, "audit", func(ctx context.Context, evt *event.Event) error {
		seen = append(seen, "any:"+evt.Type.String())
		return nil
	})
	d.SubscribeNamed(event.TypeStepDecided, "specific", func(ctx context.Context, evt *event.Event) error {
		seen = append(seen, "specific")
		return nil
	})

	if err := d.Dispatch(context.Background(), newEvt(event.TypeStepDecided)); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if err := d.Dispatch(context.Background(), newEvt(event.TypeTemplateCreated)); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}

	want := []string{"specific", "any:step.decided", "any:template.created"}
	if fmt.Sprint(seen) != fmt.Sprint(want) {
		t.Errorf("handlers ran as %v, want %v", seen, want)
	}
}

func TestUnsubscribe(t *testing.T) {
	d := NewDispatcher()
	called1, called2 := false, false

	d.SubscribeNamed(event.TypeInstanceCreated, "handler-1", func(ctx context.Context, evt *event.Event) error {
		called1 = true
		return nil
	})
	d.SubscribeNamed(event.TypeInstanceCreated, "handler-2", func(ctx context.Context, evt *event.Event) error {
		called2 = true
		return nil
	})
	d.Unsubscribe(event.TypeInstanceCreated, "handler-1")

	if err := d.Dispatch(context.Background(), newEvt(event.TypeInstanceCreated)); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if called1 {
		t.Error("expected handler-1 not to be called")
	}
	if !called2 {
		t.Error("expected handler-2 to be called")
	}
}

func TestDispatch(t *testing.T) {
	t.Run("returns first error and stops", func(t *testing.T) {
		d := NewDispatcher()
		expectedErr := errors.New("handler error")
		called := false

		d.Subscribe(event.TypeInstanceCreated, func(ctx context.Context, evt *event.Event) error {
			return expectedErr
		})
		d.Subscribe(event.TypeInstanceCreated, func(ctx context.Context, evt *event.Event) error {
			called = true
			return nil
		})

		err := d.Dispatch(context.Background(), newEvt(event.TypeInstanceCreated))
		if !errors.Is(err, expectedErr) {
			t.Errorf("expected error to wrap %v, got %v", expectedErr, err)
		}
		if called {
			t.Error("expected second handler not to be called after first error")
		}
	})

	t.Run("recovers from handler panic", func(t *testing.T) {
		logger := &mockLogger{}
		d := NewDispatcher(WithLogger(logger))
		d.Subscribe(event.TypeInstanceCreated, func(ctx context.Context, evt *event.Event) error {
			panic("test panic")
		})

		if err := d.Dispatch(context.Background(), newEvt(event.TypeInstanceCreated)); err == nil {
			t.Fatal("expected error from panic recovery")
		}
		if logger.ErrorCount() == 0 {
			t.Error("expected panic to be logged as error")
		}
	})

	t.Run("refuses events after close", func(t *testing.T) {
		d := NewDispatcher()
		if err := d.Close(); err != nil {
			t.Fatalf("close failed: %v", err)
		}
		if err := d.Dispatch(context.Background(), newEvt(event.TypeInstanceCreated)); !errors.Is(err, ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	})
}

type ctxKey struct{}

func TestDispatchAsync(t *testing.T) {
	t.Run("handlers outlive a cancelled caller context", func(t *testing.T) {
		d := NewDispatcher()
		var sawValue atomic.Bool
		var sawCancel atomic.Bool

		d.Subscribe(event.TypeStepDecided, func(ctx context.Context, evt *event.Event) error {
			time.Sleep(10 * time.Millisecond)
			sawValue.Store(ctx.Value(ctxKey{}) == "request-1")
			sawCancel.Store(ctx.Err() != nil)
			return nil
		})

		ctx, cancel := context.WithCancel(context.WithValue(context.Background(), ctxKey{}, "request-1"))
		d.DispatchAsync(ctx, newEvt(event.TypeStepDecided))
		cancel()

		if err := d.Close(); err != nil {
			t.Fatalf("close failed: %v", err)
		}
		if !sawValue.Load() {
			t.Error("expected context values to reach async handler")
		}
		if sawCancel.Load() {
			t.Error("expected async handler context not to be cancelled")
		}
	})

	t.Run("errors and panics do not stop other handlers", func(t *testing.T) {
		logger := &mockLogger{}
		d := NewDispatcher(WithLogger(logger))
		var called atomic.Int32

		d.Subscribe(event.TypeInstanceCreated, func(ctx context.Context, evt *event.Event) error {
			return errors.New("handler error")
		})
		d.Subscribe(event.TypeInstanceCreated, func(ctx context.Context, evt *event.Event) error {
			panic("async panic")
		})
		d.Subscribe(event.TypeInstanceCreated, func(ctx context.Context, evt *event.Event) error {
			called.Add(1)
			return nil
		})

		d.DispatchAsync(context.Background(), newEvt(event.TypeInstanceCreated))
		if err := d.Close(); err != nil {
			t.Fatalf("close failed: %v", err)
		}
		if called.Load() != 1 {
			t.Errorf("expected healthy handler to run once, got %d", called.Load())
		}
		if logger.ErrorCount() < 2 {
			t.Errorf("expected error and panic to be logged, got %d errors", logger.ErrorCount())
		}
	})

	t.Run("drops events after close", func(t *testing.T) {
		logger := &mockLogger{}
		d := NewDispatcher(WithLogger(logger))
		var called atomic.Int32
		d.Subscribe(event.TypeInstanceCreated, func(ctx context.Context, evt *event.Event) error {
			called.Add(1)
			return nil
		})

		if err := d.Close(); err != nil {
			t.Fatalf("close failed: %v", err)
		}
		d.DispatchAsync(context.Background(), newEvt(event.TypeInstanceCreated))
		time.Sleep(20 * time.Millisecond)

		if called.Load() > 0 {
			t.Error("expected handler not to be called after close")
		}
		if logger.ErrorCount() == 0 {
			t.Error("expected dropped event to be logged")
		}
	})
}

func TestListHandlers(t *testing.T) {
	d := NewDispatcher()
	d.SubscribeNamed(event.TypeInstanceCreated, "test-handler", noop)
	d.SubscribeNamed(event.TypeInstanceApproved, "other-handler", noop)

	handlers := d.ListHandlers(event.TypeInstanceCreated)
	if len(handlers) != 1 {
		t.Fatalf("expected 1 handler, got %d", len(handlers))
	}
	if handlers[0].Name != "test-handler" {
		t.Errorf("expected name 'test-handler', got '%s'", handlers[0].Name)
	}
	if handlers[0].Handler != nil {
		t.Error("expected handler function not to be exposed")
	}
	if got := len(d.ListHandlers(event.TypeTemplateUpdated)); got != 0 {
		t.Errorf("expected 0 handlers for unregistered type, got %d", got)
	}
}

func TestClose(t *testing.T) {
	d := NewDispatcher()
	if err := d.Close(); err != nil {
		t.Fatalf("first close failed: %v", err)
	}
	if err := d.Close(); err == nil {
		t.Fatal("expected error on second close")
	}
}

func TestClose_ConcurrentDispatchAsync(t *testing.T) {
	for i := 0; i < 200; i++ {
		d := NewDispatcher()
		var closeReturned, lateHandlers atomic.Int32
		d.Subscribe(event.TypeStepDecided, func(ctx context.Context, evt *event.Event) error {
			if closeReturned.Load() == 1 {
				lateHandlers.Add(1)
			}
			return nil
		})

		var wg sync.WaitGroup
		for j := 0; j < 4; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for k := 0; k < 5; k++ {
					d.DispatchAsync(context.Background(), newEvt(event.TypeStepDecided))
				}
			}()
		}

		if err := d.Close(); err != nil {
			t.Fatalf("close failed: %v", err)
		}
		closeReturned.Store(1)
		wg.Wait()

		if got := lateHandlers.Load(); got != 0 {
			t.Fatalf("iteration %d: %d handlers ran after Close returned", i, got)
		}
	}
}

func TestConcurrentSubscribeAndDispatch(t *testing.T) {
	d := NewDispatcher()
	var called atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			d.SubscribeNamed(event.TypeStepDecided, fmt.Sprintf("handler-%d", id), func(ctx context.Context, evt *event.Event) error {
				called.Add(1)
				return nil
			})
		}(i)
	}
	wg.Wait()

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = d.Dispatch(context.Background(), newEvt(event.TypeStepDecided))
		}()
	}
	wg.Wait()

	if got := called.Load(); got != 50 {
		t.Errorf("expected 50 handler calls, got %d", got)
	}
}
