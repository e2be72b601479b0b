// Package fs provides the filesystem seam used by the durable storage
// backends and the CLI.
//
// The main types are:
//   - [FS]: interface for the filesystem operations the engine needs
//   - [File]: interface for open files (satisfied by [os.File])
//   - [Real]: production implementation using the [os] package
//   - [Faulty]: testing implementation that fails selected operations
//   - [Locker]: flock based advisory locking for data directories
//
// Example usage:
//
//	fsys := fs.NewReal()
//	lock, err := fs.NewLocker(fsys).TryLock(filepath.Join(dir, "txlog.lock"))
//	if err != nil {
//	    return err
//	}
//	defer lock.Close()
package fs

import (
	"io"
	"os"
)

// File represents an OS-backed open file descriptor.
//
// Implementations must behave like [os.File], including that [File.Fd]
// returns a descriptor usable with flock(2) until the file is closed.
type File interface {
	io.ReadWriteCloser
	io.Seeker

	// Fd returns the file descriptor. See [os.File.Fd].
	Fd() uintptr

	// Stat returns the [os.FileInfo] for this file. See [os.File.Stat].
	Stat() (os.FileInfo, error)

	// Sync commits the file's contents to disk. See [os.File.Sync].
	Sync() error

	// Truncate changes the size of the file. See [os.File.Truncate].
	// The transaction log uses it to drop a torn tail record.
	Truncate(size int64) error
}

// FS defines the filesystem operations used by this module.
//
// All methods mirror their [os] package equivalents. Paths use OS semantics.
// Implementations must be safe for concurrent use by multiple goroutines.
type FS interface {
	// Open opens a file for reading. See [os.Open].
	Open(path string) (File, error)

	// OpenFile opens a file with specified flags and permissions. See [os.OpenFile].
	OpenFile(path string, flag int, perm os.FileMode) (File, error)

	// ReadFile reads an entire file into memory. See [os.ReadFile].
	ReadFile(path string) ([]byte, error)

	// WriteFileAtomic replaces path with data so that readers observe
	// either the old or the new content, never a partial write.
	WriteFileAtomic(path string, data []byte, perm os.FileMode) error

	// ReadDir reads a directory and returns its entries sorted by name.
	ReadDir(path string) ([]os.DirEntry, error)

	// MkdirAll creates a directory and all parents. See [os.MkdirAll].
	MkdirAll(path string, perm os.FileMode) error

	// Stat returns file info. See [os.Stat].
	Stat(path string) (os.FileInfo, error)

	// Exists reports whether a file or directory exists.
	// Returns (false, nil) if not found, (false, err) on other errors.
	Exists(path string) (bool, error)

	// Remove deletes a file or empty directory. See [os.Remove].
	Remove(path string) error

	// Rename moves a file or directory. See [os.Rename].
	Rename(oldpath, newpath string) error
}

var _ File = (*os.File)(nil)
