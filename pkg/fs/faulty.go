package fs

import (
	"os"
	"sync"
)

// FaultOp names an operation [Faulty] can fail.
type FaultOp uint8

const (
	FaultOpen FaultOp = iota + 1
	FaultWrite
	FaultSync
	FaultTruncate
	FaultWriteAtomic
	FaultRename
)

// Faulty wraps an [FS] and fails armed operations with a fixed error.
// It is used by tests to drive the storage error paths deterministically.
//
// A fault armed with [Faulty.FailNext] fires once; one armed with
// [Faulty.Fail] fires until [Faulty.Heal].
type Faulty struct {
	FS

	mu     sync.Mutex
	faults map[FaultOp]fault
}

type fault struct {
	err    error
	sticky bool
}

// NewFaulty wraps inner with no armed faults.
func NewFaulty(inner FS) *Faulty {
	return &Faulty{FS: inner, faults: make(map[FaultOp]fault)}
}

// FailNext arms op to fail once with err.
func (f *Faulty) FailNext(op FaultOp, err error) {
	f.mu.Lock()
	f.faults[op] = fault{err: err}
	f.mu.Unlock()
}

// Fail arms op to fail with err until healed.
func (f *Faulty) Fail(op FaultOp, err error) {
	f.mu.Lock()
	f.faults[op] = fault{err: err, sticky: true}
	f.mu.Unlock()
}

// Heal disarms every fault.
func (f *Faulty) Heal() {
	f.mu.Lock()
	clear(f.faults)
	f.mu.Unlock()
}

func (f *Faulty) take(op FaultOp) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	flt, ok := f.faults[op]
	if !ok {
		return nil
	}

	if !flt.sticky {
		delete(f.faults, op)
	}

	return flt.err
}

func (f *Faulty) Open(path string) (File, error) {
	err := f.take(FaultOpen)
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: path, Err: err}
	}

	file, err := f.FS.Open(path)
	if err != nil {
		return nil, err
	}

	return &faultyFile{File: file, owner: f, path: path}, nil
}

func (f *Faulty) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	err := f.take(FaultOpen)
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: path, Err: err}
	}

	file, err := f.FS.OpenFile(path, flag, perm)
	if err != nil {
		return nil, err
	}

	return &faultyFile{File: file, owner: f, path: path}, nil
}

func (f *Faulty) WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	err := f.take(FaultWriteAtomic)
	if err != nil {
		return &os.PathError{Op: "write", Path: path, Err: err}
	}

	return f.FS.WriteFileAtomic(path, data, perm)
}

func (f *Faulty) Rename(oldpath, newpath string) error {
	err := f.take(FaultRename)
	if err != nil {
		return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: err}
	}

	return f.FS.Rename(oldpath, newpath)
}

type faultyFile struct {
	File

	owner *Faulty
	path  string
}

// Write fails before touching the underlying file, so a failed append
// leaves no partial bytes behind.
func (ff *faultyFile) Write(p []byte) (int, error) {
	err := ff.owner.take(FaultWrite)
	if err != nil {
		return 0, &os.PathError{Op: "write", Path: ff.path, Err: err}
	}

	return ff.File.Write(p)
}

func (ff *faultyFile) Sync() error {
	err := ff.owner.take(FaultSync)
	if err != nil {
		return &os.PathError{Op: "sync", Path: ff.path, Err: err}
	}

	return ff.File.Sync()
}

func (ff *faultyFile) Truncate(size int64) error {
	err := ff.owner.take(FaultTruncate)
	if err != nil {
		return &os.PathError{Op: "truncate", Path: ff.path, Err: err}
	}

	return ff.File.Truncate(size)
}

var (
	_ FS   = (*Faulty)(nil)
	_ File = (*faultyFile)(nil)
)
