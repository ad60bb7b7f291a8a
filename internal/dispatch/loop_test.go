package dispatch

import (
	"errors"
	"os"
	"testing"

	"golang.org/x/sys/unix"
)

type pipeReader struct{}

func (pipeReader) Read(fd int, buf []byte) (int, error) {
	return unix.Read(fd, buf)
}

func TestLoopDispatchesOnReadable(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	loop, err := NewLoop()
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}
	defer loop.Close()

	var got []byte
	finalized := make(chan error, 1)
	src := NewContextSource(int(r.Fd()), pipeReader{}, func(buf []byte) error {
		got = append([]byte(nil), buf...)
		return nil
	}, func(err error) {
		finalized <- err
	})

	if err := loop.Register(src); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := w.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := loop.RunOnce(1000); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("expected dispatch to see %q, got %q", "hello", got)
	}

	select {
	case err := <-finalized:
		t.Fatalf("unexpected finalize: %v", err)
	default:
	}
}

func TestLoopRemovesAndFinalizesOnHandlerError(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	loop, err := NewLoop()
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}
	defer loop.Close()

	wantErr := errors.New("bad event")
	finalized := make(chan error, 1)
	src := NewContextSource(int(r.Fd()), pipeReader{}, func(buf []byte) error {
		return wantErr
	}, func(err error) {
		finalized <- err
	})

	if err := loop.Register(src); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := w.Write([]byte("x")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := loop.RunOnce(1000); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	select {
	case err := <-finalized:
		if !errors.Is(err, wantErr) {
			t.Fatalf("expected finalize(%v), got %v", wantErr, err)
		}
	default:
		t.Fatal("expected Finalize to be called after a handler error")
	}
}

func TestLoopRemoveFinalizesCleanly(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	loop, err := NewLoop()
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}
	defer loop.Close()

	finalized := make(chan error, 1)
	src := NewContextSource(int(r.Fd()), pipeReader{}, func([]byte) error { return nil }, func(err error) {
		finalized <- err
	})

	if err := loop.Register(src); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := loop.Remove(src, nil); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	select {
	case err := <-finalized:
		if err != nil {
			t.Fatalf("expected clean finalize(nil), got %v", err)
		}
	default:
		t.Fatal("expected Finalize to be called on Remove")
	}
}
