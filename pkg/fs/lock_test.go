package fs

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func Test_Locker_TryLock_Returns_ErrWouldBlock_When_Path_Is_Locked(t *testing.T) {
	t.Parallel()

	locker := NewLocker(NewReal())
	path := filepath.Join(t.TempDir(), "data", "txlog.lock")

	lock1, err := locker.TryLock(path)
	if err != nil {
		t.Fatalf("TryLock(%q): %v", path, err)
	}

	t.Cleanup(func() { _ = lock1.Close() })

	lock2, err := locker.TryLock(path)
	if !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("TryLock(%q) while locked: err=%v, want %v", path, err, ErrWouldBlock)
	}

	if lock2 != nil {
		t.Fatal("TryLock while locked returned a lock")
	}

	err = lock1.Close()
	if err != nil {
		t.Fatalf("Close(): %v", err)
	}

	lock3, err := locker.TryLock(path)
	if err != nil {
		t.Fatalf("TryLock(%q) after release: %v", path, err)
	}

	_ = lock3.Close()
}

func Test_Locker_TryRLock_Allows_Readers_And_Blocks_Writer(t *testing.T) {
	t.Parallel()

	locker := NewLocker(NewReal())
	path := filepath.Join(t.TempDir(), "txlog.lock")

	r1, err := locker.TryRLock(path)
	if err != nil {
		t.Fatalf("first reader: %v", err)
	}
	defer r1.Close()

	r2, err := locker.TryRLock(path)
	if err != nil {
		t.Fatalf("second reader: %v", err)
	}
	defer r2.Close()

	_, err = locker.TryLock(path)
	if !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("writer while readers hold lock: err=%v, want %v", err, ErrWouldBlock)
	}
}

func Test_Locker_LockContext_Returns_ErrWouldBlock_When_Context_Expires(t *testing.T) {
	t.Parallel()

	locker := NewLocker(NewReal())
	path := filepath.Join(t.TempDir(), "txlog.lock")

	held, err := locker.TryLock(path)
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	defer held.Close()

	ctx, cancel := context.WithTimeout(t.Context(), 30*time.Millisecond)
	defer cancel()

	_, err = locker.LockContext(ctx, path)
	if !errors.Is(err, ErrWouldBlock) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v, want ErrWouldBlock wrapping DeadlineExceeded", err)
	}
}

func Test_Locker_LockContext_Acquires_When_Holder_Releases(t *testing.T) {
	t.Parallel()

	locker := NewLocker(NewReal())
	path := filepath.Join(t.TempDir(), "txlog.lock")

	held, err := locker.TryLock(path)
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}

	time.AfterFunc(20*time.Millisecond, func() { _ = held.Close() })

	lk, err := locker.LockContext(t.Context(), path)
	if err != nil {
		t.Fatalf("LockContext: %v", err)
	}

	_ = lk.Close()
}

func Test_Lock_Close_Is_Idempotent(t *testing.T) {
	t.Parallel()

	lk, err := NewLocker(NewReal()).TryLock(filepath.Join(t.TempDir(), "l"))
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}

	if err := lk.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}

	if err := lk.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
