package fs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

var (
	// ErrWouldBlock is returned when a lock is held elsewhere and the caller
	// asked not to wait, or stopped waiting.
	ErrWouldBlock = errors.New("lock would block")

	errInodeMismatch = errors.New("inode mismatch")
)

// Locker provides advisory locks on lock files using flock(2).
//
// A data directory is guarded by a dedicated lock file next to the data
// (for example "txlog.lock"). The lock file must never be replaced or
// unlinked while locks may be held. Locker verifies after flock that the
// descriptor still refers to the file at path and retries otherwise.
//
// Exclusive locks open the file O_RDWR, shared locks O_RDONLY.
type Locker struct {
	fs    FS
	flock func(fd int, how int) error
}

// NewLocker creates a Locker that opens lock files through fs.
func NewLocker(fs FS) *Locker {
	return &Locker{fs: fs, flock: unix.Flock}
}

// Lock is a held file lock. Call [Lock.Close] to release it.
type Lock struct {
	mu    sync.Mutex
	file  File
	flock func(fd int, how int) error
}

// Close releases the lock and closes the descriptor. It is idempotent.
func (lk *Lock) Close() error {
	lk.mu.Lock()
	defer lk.mu.Unlock()

	if lk.file == nil {
		return nil
	}

	unlockErr := flockRetryEINTR(lk.flock, int(lk.file.Fd()), unix.LOCK_UN)
	closeErr := lk.file.Close()
	lk.file = nil

	if unlockErr != nil {
		unlockErr = fmt.Errorf("unlocking lock: %w", unlockErr)
	}

	if closeErr != nil {
		closeErr = fmt.Errorf("closing lock fd: %w", closeErr)
	}

	return errors.Join(unlockErr, closeErr)
}

// TryLock acquires an exclusive lock or fails with [ErrWouldBlock].
func (l *Locker) TryLock(path string) (*Lock, error) {
	return l.try(path, unix.LOCK_EX)
}

// TryRLock acquires a shared lock or fails with [ErrWouldBlock].
func (l *Locker) TryRLock(path string) (*Lock, error) {
	return l.try(path, unix.LOCK_SH)
}

// LockContext acquires an exclusive lock, polling with backoff until ctx is
// done. The returned error wraps [ErrWouldBlock] and the context error when
// the wait is abandoned.
func (l *Locker) LockContext(ctx context.Context, path string) (*Lock, error) {
	backoff := time.Millisecond

	for {
		lk, err := l.try(path, unix.LOCK_EX)
		if err == nil {
			return lk, nil
		}

		if !errors.Is(err, ErrWouldBlock) {
			return nil, err
		}

		timer := time.NewTimer(backoff)

		select {
		case <-ctx.Done():
			timer.Stop()

			return nil, fmt.Errorf("%w: %w", ErrWouldBlock, ctx.Err())
		case <-timer.C:
		}

		backoff = min(backoff*2, 25*time.Millisecond)
	}
}

func (l *Locker) try(path string, how int) (*Lock, error) {
	flag := os.O_RDWR
	if how == unix.LOCK_SH {
		flag = os.O_RDONLY
	}

	// One retry per replacement of the lock file; a second replacement
	// during the same attempt is reported as contention.
	for range 2 {
		file, err := l.openLockFile(path, flag)
		if err != nil {
			return nil, fmt.Errorf("opening lockfile: %w", err)
		}

		err = l.acquire(file, path, how|unix.LOCK_NB)
		if err == nil {
			return &Lock{file: file, flock: l.flock}, nil
		}

		_ = file.Close()

		if !errors.Is(err, errInodeMismatch) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("%w: lock file was replaced while acquiring lock", ErrWouldBlock)
}

// acquire flocks file and checks it is still the file at path. On failure the
// file is unlocked but not closed.
func (l *Locker) acquire(file File, path string, how int) error {
	fd := int(file.Fd())

	err := flockRetryEINTR(l.flock, fd, how)
	if err != nil {
		if errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN) {
			return ErrWouldBlock
		}

		return fmt.Errorf("flock: %w", err)
	}

	match, err := l.sameInode(path, file)
	if err != nil || !match {
		_ = flockRetryEINTR(l.flock, fd, unix.LOCK_UN)

		if err == nil || errors.Is(err, os.ErrNotExist) {
			return errInodeMismatch
		}

		return fmt.Errorf("verifying inode match: %w", err)
	}

	return nil
}

func (l *Locker) openLockFile(path string, flag int) (File, error) {
	f, err := l.fs.OpenFile(path, flag|os.O_CREATE, 0o600)
	if err == nil || !errors.Is(err, os.ErrNotExist) {
		return f, err
	}

	err = l.fs.MkdirAll(filepath.Dir(path), 0o755)
	if err != nil {
		return nil, err
	}

	return l.fs.OpenFile(path, flag|os.O_CREATE, 0o600)
}

// sameInode reports whether the open descriptor still refers to the file
// currently at path.
func (l *Locker) sameInode(path string, f File) (bool, error) {
	openInfo, err := f.Stat()
	if err != nil {
		return false, err
	}

	pathInfo, err := l.fs.Stat(path)
	if err != nil {
		return false, err
	}

	return os.SameFile(openInfo, pathInfo), nil
}

// flockRetryEINTR retries flock when a signal interrupts it. Retries are
// capped so a signal storm cannot spin forever.
func flockRetryEINTR(flock func(fd int, how int) error, fd int, how int) error {
	const maxEINTRRetries = 10000

	var err error
	for range maxEINTRRetries {
		err = flock(fd, how)
		if err == nil || !errors.Is(err, unix.EINTR) {
			return err
		}
	}

	return err
}
