package mc

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeSignalHandler struct {
	mu     sync.Mutex
	frames [][]byte
}

func (h *fakeSignalHandler) Send(frame []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frames = append(h.frames, frame)
	return nil
}

func (h *fakeSignalHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.frames)
}

func TestConnectionActorForwardsFramesInOrder(t *testing.T) {
	handler := &fakeSignalHandler{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn := NewConnectionActor("conn-1", "meeting-1", "participant-1", handler, testControllerConfig(), noopLogger(), nil)
	go conn.Run(ctx)

	for i := 0; i < 3; i++ {
		if err := conn.Forward([]byte{byte(i)}); err != nil {
			t.Fatalf("Forward: %v", err)
		}
	}

	deadline := time.Now().Add(time.Second)
	for handler.count() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("handler received %d frames, want 3", handler.count())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestConnectionActorNotifiesTerminationOnClose(t *testing.T) {
	terminated := make(chan string, 1)
	conn := NewConnectionActor("conn-1", "meeting-1", "participant-1", &fakeSignalHandler{}, testControllerConfig(), noopLogger(), func(connectionID, participantID string) {
		terminated <- connectionID
	})

	go conn.Run(context.Background())
	conn.Close()

	select {
	case id := <-terminated:
		if id != "conn-1" {
			t.Fatalf("terminated connection id = %q, want conn-1", id)
		}
	case <-time.After(time.Second):
		t.Fatal("onTerminate was not called after Close")
	}

	deadline := time.Now().Add(time.Second)
	for {
		err := conn.Forward([]byte("late"))
		if errors.Is(err, ErrConnectionClosed) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("Forward after Close: err = %v, want ErrConnectionClosed", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
