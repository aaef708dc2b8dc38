package ring

import (
	"errors"
	"syscall"
	"testing"
)

func TestNewAndClose(t *testing.T) {
	r, err := New(Config{Entries: 8})
	if err != nil {
		t.Fatalf("ring setup failed: %v", err)
	}
	r.Close()
}

func TestNewRejectsZeroEntries(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for zero entries")
	}
}

func TestNewRejectsFlags(t *testing.T) {
	if _, err := New(Config{Entries: 8, Flags: 1}); err == nil {
		t.Fatal("expected error for unsupported flags")
	}
}

func TestTemporaryClassification(t *testing.T) {
	if !Temporary(syscall.EINTR) {
		t.Error("EINTR should be temporary")
	}
	if !Temporary(syscall.EAGAIN) {
		t.Error("EAGAIN should be temporary")
	}
	if Temporary(syscall.EINVAL) {
		t.Error("EINVAL should be fatal")
	}
	if Temporary(errors.New("not an errno")) {
		t.Error("non-errno errors are not temporary")
	}
}

func TestRegisterUnregisterFd(t *testing.T) {
	r, err := New(Config{Entries: 8})
	if err != nil {
		t.Fatalf("ring setup failed: %v", err)
	}
	defer r.Close()

	if err := r.RegisterFd(); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	// Idempotent while registered.
	if err := r.RegisterFd(); err != nil {
		t.Fatalf("re-register failed: %v", err)
	}
	if err := r.UnregisterFd(); err != nil {
		t.Fatalf("unregister failed: %v", err)
	}
	if err := r.UnregisterFd(); err != nil {
		t.Fatalf("re-unregister failed: %v", err)
	}
}
