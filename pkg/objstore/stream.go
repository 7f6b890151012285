package objstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"gocloud.dev/blob"

	"github.com/ligustah/cfa/pkg/errkind"
)

// Mode selects whether a stream reads or writes.
type Mode int

const (
	Read Mode = iota
	Write
)

func (m Mode) String() string {
	if m == Write {
		return "write"
	}
	return "read"
}

// Defaults for StreamOptions.
const (
	DefaultPartSize  = 5 << 20
	DefaultReadAhead = 256 << 10
)

// StreamOptions tunes a FileStream.
type StreamOptions struct {
	// PartSize is the upload part size in write mode.
	PartSize int
	// ReadAhead is how much a small read fetches beyond what was asked
	// for. Reads of at least this size fetch exactly the requested span.
	ReadAhead int
}

func (o *StreamOptions) withDefaults() StreamOptions {
	var out StreamOptions
	if o != nil {
		out = *o
	}
	if out.PartSize <= 0 {
		out.PartSize = DefaultPartSize
	}
	if out.ReadAhead <= 0 {
		out.ReadAhead = DefaultReadAhead
	}
	return out
}

// FileStream is a byte stream over one object. It is not safe for
// concurrent use.
type FileStream struct {
	pool *Pool
	loc  Location
	mode Mode
	opts StreamOptions

	ctx     context.Context
	session *Session
	bucket  *blob.Bucket

	// read mode
	size    int64
	pos     int64
	ahead   []byte
	aheadAt int64
	fetches int

	// write mode
	wbuf    []byte
	writer  *blob.Writer
	cancel  context.CancelFunc
	parts   int
	written int64
	failed  error

	closed bool
}

// NewStream prepares a stream; nothing is fetched until Connect.
func NewStream(pool *Pool, loc Location, mode Mode, opts *StreamOptions) *FileStream {
	return &FileStream{pool: pool, loc: loc, mode: mode, opts: opts.withDefaults()}
}

// OpenStream parses uri and returns a connected stream.
func OpenStream(ctx context.Context, pool *Pool, uri string, mode Mode, opts *StreamOptions) (*FileStream, error) {
	loc, err := ParseLocation(uri)
	if err != nil {
		return nil, err
	}
	s := NewStream(pool, loc, mode, opts)
	if err := s.Connect(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Connect acquires a session and, in read mode, discovers the object
// size. ctx bounds every later operation of the stream. On error the
// session is released.
func (s *FileStream) Connect(ctx context.Context) (err error) {
	if s.session != nil {
		return nil
	}
	sess, err := s.pool.Acquire(ctx, s.loc)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			sess.Release()
			s.session, s.bucket = nil, nil
		}
	}()
	bucket, err := sess.Bucket(ctx, s.loc.Bucket)
	if err != nil {
		return err
	}
	s.ctx, s.session, s.bucket = ctx, sess, bucket
	if s.mode == Read {
		attrs, err := bucket.Attributes(ctx, s.loc.Key)
		if err != nil {
			return errkind.Storage(fmt.Errorf("objstore: stat %s: %w", s.loc, err))
		}
		s.size = attrs.Size
	}
	return nil
}

func (s *FileStream) check(mode Mode) error {
	if s.closed {
		return errkind.UnsupportedOperation.New("objstore: %s is closed", s.loc)
	}
	if s.session == nil {
		return errkind.UnsupportedOperation.New("objstore: %s is not connected", s.loc)
	}
	if s.mode != mode {
		return errkind.UnsupportedOperation.New("objstore: %s is open for %s", s.loc, s.mode)
	}
	return nil
}

// Location returns the streamed object's location.
func (s *FileStream) Location() Location { return s.loc }

// Size returns the object size fixed at Connect.
func (s *FileStream) Size() int64 { return s.size }

// Tell returns the current position.
func (s *FileStream) Tell() int64 { return s.pos }

func (s *FileStream) Readable() bool { return s.mode == Read }
func (s *FileStream) Writable() bool { return s.mode == Write }
func (s *FileStream) Seekable() bool { return s.mode == Read }

// Seek moves the read position. Positions before the start or beyond the
// end of the object fail with a Range error.
func (s *FileStream) Seek(offset int64, whence int) (int64, error) {
	if s.mode == Write {
		return 0, errkind.UnsupportedOperation.New("objstore: seek on write stream %s", s.loc)
	}
	if err := s.check(Read); err != nil {
		return 0, err
	}
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = s.pos + offset
	case io.SeekEnd:
		target = s.size + offset
	default:
		return 0, errkind.UnsupportedOperation.New("objstore: bad whence %d", whence)
	}
	if target < 0 || target > s.size {
		return 0, errkind.Range.New("objstore: seek to %d outside [0, %d]", target, s.size)
	}
	s.pos = target
	return target, nil
}

func (s *FileStream) fetch(off, n int64) ([]byte, error) {
	s.fetches++
	r, err := s.bucket.NewRangeReader(s.ctx, s.loc.Key, off, n, nil)
	if err != nil {
		return nil, errkind.Storage(fmt.Errorf("objstore: read %s: %w", s.loc, err))
	}
	defer r.Close()
	buf := make([]byte, n)
	got, err := io.ReadFull(r, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, errkind.Storage(fmt.Errorf("objstore: read %s: %w", s.loc, err))
	}
	return buf[:got], nil
}

// Read reads up to len(p) bytes at the current position. Near the end of
// the object it returns fewer bytes; at the end it returns io.EOF.
func (s *FileStream) Read(p []byte) (int, error) {
	if err := s.check(Read); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}
	if s.pos >= s.size {
		return 0, io.EOF
	}
	want := min(int64(len(p)), s.size-s.pos)

	if int(want) >= s.opts.ReadAhead {
		data, err := s.fetch(s.pos, want)
		if err != nil {
			return 0, err
		}
		n := copy(p, data)
		s.pos += int64(n)
		return n, nil
	}

	if s.pos < s.aheadAt || s.pos >= s.aheadAt+int64(len(s.ahead)) {
		data, err := s.fetch(s.pos, min(int64(s.opts.ReadAhead), s.size-s.pos))
		if err != nil {
			return 0, err
		}
		s.ahead, s.aheadAt = data, s.pos
	}
	n := copy(p[:want], s.ahead[s.pos-s.aheadAt:])
	s.pos += int64(n)
	return n, nil
}

// ReadAll reads from the current position to the end of the object.
func (s *FileStream) ReadAll() ([]byte, error) {
	if err := s.check(Read); err != nil {
		return nil, err
	}
	if s.pos >= s.size {
		return nil, nil
	}
	data, err := s.fetch(s.pos, s.size-s.pos)
	if err != nil {
		return nil, err
	}
	s.pos += int64(len(data))
	return data, nil
}

// ReadLine reads through the next newline, which is included. At the end
// of the object it returns the remaining bytes, then io.EOF.
func (s *FileStream) ReadLine() ([]byte, error) {
	var line []byte
	one := make([]byte, 1)
	for {
		_, err := s.Read(one)
		if err == io.EOF {
			if len(line) == 0 {
				return nil, io.EOF
			}
			return line, nil
		}
		if err != nil {
			return nil, err
		}
		line = append(line, one[0])
		if one[0] == '\n' {
			return line, nil
		}
	}
}

// ReadLines reads every remaining line.
func (s *FileStream) ReadLines() ([][]byte, error) {
	var lines [][]byte
	for {
		line, err := s.ReadLine()
		if err == io.EOF {
			return lines, nil
		}
		if err != nil {
			return lines, err
		}
		lines = append(lines, line)
	}
}

// Write appends p. Every full part beyond the first is uploaded as it
// fills.
func (s *FileStream) Write(p []byte) (int, error) {
	if err := s.check(Write); err != nil {
		return 0, err
	}
	if s.failed != nil {
		return 0, s.failed
	}
	s.wbuf = append(s.wbuf, p...)
	// Keep a full part buffered so that a payload of exactly one part
	// still goes out as a single put.
	for len(s.wbuf) > s.opts.PartSize {
		if err := s.flushPart(s.wbuf[:s.opts.PartSize]); err != nil {
			s.failed = err
			return 0, err
		}
		s.wbuf = append(s.wbuf[:0], s.wbuf[s.opts.PartSize:]...)
	}
	return len(p), nil
}

// WriteLines writes each line as given; no separators are added.
func (s *FileStream) WriteLines(lines [][]byte) error {
	_, err := s.Write(bytes.Join(lines, nil))
	return err
}

func (s *FileStream) flushPart(part []byte) error {
	if s.writer == nil {
		ctx, cancel := context.WithCancel(s.ctx)
		w, err := s.bucket.NewWriter(ctx, s.loc.Key, &blob.WriterOptions{BufferSize: s.opts.PartSize})
		if err != nil {
			cancel()
			return errkind.Storage(fmt.Errorf("objstore: start upload %s: %w", s.loc, err))
		}
		s.writer, s.cancel = w, cancel
	}
	if _, err := s.writer.Write(part); err != nil {
		return errkind.Storage(fmt.Errorf("objstore: upload part %d of %s: %w", s.parts+1, s.loc, err))
	}
	s.parts++
	s.written += int64(len(part))
	return nil
}

// Multipart reports whether the payload is going through a multipart
// upload, and how many parts have been sent so far.
func (s *FileStream) Multipart() (bool, int) {
	return s.writer != nil, s.parts
}

// Truncate is not supported on object streams.
func (s *FileStream) Truncate(int64) error {
	return errkind.UnsupportedOperation.New("objstore: truncate %s", s.loc)
}

// Fd is not supported on object streams.
func (s *FileStream) Fd() (uintptr, error) {
	return 0, errkind.UnsupportedOperation.New("objstore: %s has no file descriptor", s.loc)
}

// Close completes a write and releases the session. A failed write
// aborts the multipart upload.
func (s *FileStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.session == nil {
		return nil
	}
	defer s.session.Release()
	if s.mode == Read {
		return nil
	}
	return s.finish()
}

func (s *FileStream) finish() error {
	if s.failed != nil {
		if s.writer != nil {
			s.cancel()
			s.writer.Close()
		}
		return s.failed
	}
	if s.writer == nil {
		if err := s.bucket.WriteAll(s.ctx, s.loc.Key, s.wbuf, nil); err != nil {
			return errkind.Storage(fmt.Errorf("objstore: put %s: %w", s.loc, err))
		}
		s.written = int64(len(s.wbuf))
		return nil
	}
	defer s.cancel()
	if len(s.wbuf) > 0 {
		if _, err := s.writer.Write(s.wbuf); err != nil {
			s.cancel()
			s.writer.Close()
			return errkind.Storage(fmt.Errorf("objstore: final part of %s: %w", s.loc, err))
		}
		s.parts++
		s.written += int64(len(s.wbuf))
	}
	if err := s.writer.Close(); err != nil {
		return errkind.Storage(fmt.Errorf("objstore: complete upload %s: %w", s.loc, err))
	}
	return nil
}

// Abort discards a write in progress and releases the session.
func (s *FileStream) Abort() {
	if s.closed {
		return
	}
	s.closed = true
	if s.session == nil {
		return
	}
	if s.writer != nil {
		s.cancel()
		s.writer.Close()
	}
	s.session.Release()
}
