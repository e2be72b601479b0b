// Package filelog implements storage.Log as a single append-only file.
//
// File layout:
//
//	magic "TXLOG001"
//	record*  = len:uint32le crc32c:uint32le payload[len]
//
// The payload is the JSON encoding of a core.TxRecord. A record whose frame
// is cut short, or whose checksum fails and which is the last record in the
// file, is a torn write from a crash during append; Open truncates it. A
// checksum failure followed by further records is reported as corruption.
//
// One process may hold a log open for writing at a time; Open takes an
// exclusive flock on "<dir>/txlog.lock".
package filelog

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/calvinalkan/txcore/pkg/core"
	"github.com/calvinalkan/txcore/pkg/fs"
	"github.com/calvinalkan/txcore/pkg/storage"
)

const (
	magic       = "TXLOG001"
	frameHeader = 8

	// maxRecord bounds a single payload; larger length fields are treated
	// as garbage from a torn write.
	maxRecord = 64 << 20

	// FileName is the log file inside the data directory.
	FileName = "txlog"

	// LockName is the lock file inside the data directory.
	LockName = "txlog.lock"
)

var crc32c = crc32.MakeTable(crc32.Castagnoli)

// ErrLocked is returned by Open when another process holds the log.
var ErrLocked = errors.New("log is locked by another process")

// Options configures [Open].
type Options struct {
	// FS is the filesystem. Defaults to [fs.NewReal].
	FS fs.FS

	// Logger receives recovery diagnostics. Defaults to a no-op logger.
	Logger *zerolog.Logger

	// NoSync skips fsync after each append. Records survive a process
	// crash but not a power loss.
	NoSync bool
}

// Log is an append-only transaction log file.
type Log struct {
	mu     sync.Mutex
	fsys   fs.FS
	file   fs.File
	lock   *fs.Lock
	path   string
	size   int64
	count  int
	noSync bool
	logger zerolog.Logger
	closed bool
}

// Open opens or creates the log in dir, repairing a torn tail.
func Open(ctx context.Context, dir string, opts Options) (*Log, error) {
	if ctx == nil {
		return nil, errors.New("open filelog: context is nil")
	}

	if dir == "" {
		return nil, errors.New("open filelog: directory is empty")
	}

	fsys := opts.FS
	if fsys == nil {
		fsys = fs.NewReal()
	}

	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	err := fsys.MkdirAll(dir, 0o750)
	if err != nil {
		return nil, fmt.Errorf("open filelog: create dir: %w", err)
	}

	lock, err := fs.NewLocker(fsys).TryLock(filepath.Join(dir, LockName))
	if err != nil {
		if errors.Is(err, fs.ErrWouldBlock) {
			return nil, fmt.Errorf("open filelog %s: %w", dir, ErrLocked)
		}

		return nil, fmt.Errorf("open filelog: lock: %w", err)
	}

	path := filepath.Join(dir, FileName)

	file, err := fsys.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		_ = lock.Close()

		return nil, fmt.Errorf("open filelog: %w", err)
	}

	l := &Log{
		fsys:   fsys,
		file:   file,
		lock:   lock,
		path:   path,
		noSync: opts.NoSync,
		logger: logger.With().Str("component", "filelog").Str("path", path).Logger(),
	}

	err = l.recover()
	if err != nil {
		return nil, errors.Join(fmt.Errorf("open filelog: %w", err), file.Close(), lock.Close())
	}

	return l, nil
}

// recover validates the header and scans every frame, truncating a torn
// tail. It leaves l.size at the end of the last valid record.
func (l *Log) recover() error {
	info, err := l.file.Stat()
	if err != nil {
		return fmt.Errorf("stat: %w", err)
	}

	if info.Size() == 0 {
		return l.writeHeader()
	}

	if info.Size() < int64(len(magic)) {
		// A crash while writing the header of a new log.
		l.logger.Warn().Int64("size", info.Size()).Msg("truncating partial header")

		err = l.file.Truncate(0)
		if err != nil {
			return fmt.Errorf("truncate header: %w", err)
		}

		return l.writeHeader()
	}

	_, err = l.file.Seek(0, io.SeekStart)
	if err != nil {
		return fmt.Errorf("seek: %w", err)
	}

	r := bufio.NewReader(l.file)

	head := make([]byte, len(magic))

	_, err = io.ReadFull(r, head)
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}

	if string(head) != magic {
		return fmt.Errorf("%w: bad magic %q", storage.ErrCorrupt, head)
	}

	offset := int64(len(magic))
	end := info.Size()

	for offset < end {
		n, _, err := readFrame(r, end-offset)
		if err == nil {
			offset += n
			l.count++

			continue
		}

		if errors.Is(err, errTorn) {
			break
		}

		if errors.Is(err, errChecksum) && offset+n == end {
			break
		}

		return fmt.Errorf("record at offset %d: %w", offset, err)
	}

	if offset < end {
		l.logger.Warn().
			Int64("valid_size", offset).
			Int64("file_size", end).
			Msg("truncating torn tail record")

		err = l.file.Truncate(offset)
		if err != nil {
			return fmt.Errorf("truncate torn tail: %w", err)
		}

		err = l.sync()
		if err != nil {
			return err
		}
	}

	l.size = offset

	return nil
}

func (l *Log) writeHeader() error {
	_, err := l.file.Seek(0, io.SeekStart)
	if err != nil {
		return fmt.Errorf("seek: %w", err)
	}

	_, err = l.file.Write([]byte(magic))
	if err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	l.size = int64(len(magic))

	return l.sync()
}

var (
	errTorn     = errors.New("torn record")
	errChecksum = fmt.Errorf("%w: checksum mismatch", storage.ErrCorrupt)
)

// readFrame reads one frame from r with at most remaining bytes available.
// It returns the frame size even when the checksum fails, so callers can
// tell whether the bad frame is the last one.
func readFrame(r io.Reader, remaining int64) (int64, []byte, error) {
	if remaining < frameHeader {
		return 0, nil, errTorn
	}

	var hdr [frameHeader]byte

	_, err := io.ReadFull(r, hdr[:])
	if err != nil {
		return 0, nil, errTorn
	}

	size := binary.LittleEndian.Uint32(hdr[0:4])
	sum := binary.LittleEndian.Uint32(hdr[4:8])

	if size > maxRecord || int64(size) > remaining-frameHeader {
		return 0, nil, errTorn
	}

	payload := make([]byte, size)

	_, err = io.ReadFull(r, payload)
	if err != nil {
		return 0, nil, errTorn
	}

	n := int64(frameHeader) + int64(size)

	if crc32.Checksum(payload, crc32c) != sum {
		return n, nil, errChecksum
	}

	return n, payload, nil
}

// Append implements storage.Log. A failed write is rolled back by
// truncating to the previous size so no partial frame remains.
func (l *Log) Append(ctx context.Context, tx core.Tx) error {
	err := ctx.Err()
	if err != nil {
		return err
	}

	payload, err := core.MarshalTx(tx)
	if err != nil {
		return fmt.Errorf("encode tx: %w", err)
	}

	if len(payload) > maxRecord {
		return fmt.Errorf("encode tx %s: record of %d bytes exceeds limit", tx.Header().ID, len(payload))
	}

	frame := make([]byte, frameHeader+len(payload))
	binary.LittleEndian.PutUint32(frame[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(frame[4:8], crc32.Checksum(payload, crc32c))
	copy(frame[frameHeader:], payload)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return storage.ErrClosed
	}

	_, err = l.file.Seek(l.size, io.SeekStart)
	if err != nil {
		return fmt.Errorf("append: seek: %w", err)
	}

	_, err = l.file.Write(frame)
	if err == nil {
		err = l.sync()
	}

	if err != nil {
		truncErr := l.file.Truncate(l.size)
		if truncErr != nil {
			truncErr = fmt.Errorf("rollback truncate: %w", truncErr)
		}

		return errors.Join(fmt.Errorf("append %s: %w", tx.Header().ID, err), truncErr)
	}

	l.size += int64(len(frame))
	l.count++

	return nil
}

// Replay implements storage.Log.
func (l *Log) Replay(ctx context.Context, fn func(core.Tx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return storage.ErrClosed
	}

	_, err := l.file.Seek(int64(len(magic)), io.SeekStart)
	if err != nil {
		return fmt.Errorf("replay: seek: %w", err)
	}

	r := bufio.NewReader(l.file)
	offset := int64(len(magic))

	for offset < l.size {
		err := ctx.Err()
		if err != nil {
			return err
		}

		n, payload, err := readFrame(r, l.size-offset)
		if err != nil {
			return fmt.Errorf("replay: record at offset %d: %w", offset, err)
		}

		tx, err := core.UnmarshalTx(payload)
		if err != nil {
			return fmt.Errorf("replay: record at offset %d: %w", offset, err)
		}

		err = fn(tx)
		if err != nil {
			return err
		}

		offset += n
	}

	return nil
}

// Len returns the number of records in the log.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.count
}

// Close implements storage.Log.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}

	l.closed = true

	closeErr := l.file.Close()
	if closeErr != nil {
		closeErr = fmt.Errorf("close file: %w", closeErr)
	}

	return errors.Join(closeErr, l.lock.Close())
}

func (l *Log) sync() error {
	if l.noSync {
		return nil
	}

	err := l.file.Sync()
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	return nil
}

var _ storage.Log = (*Log)(nil)
