// Package wal implements the write-ahead event log: an append-only,
// length-prefixed sequence of Events that the daemon replays on startup and
// that every materialized-state mutation is derived from. Append order is
// FIFO; the writer is single-threaded but Send may be called from any
// goroutine. Buffered writes are only durable after Flush.
package wal

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oddjobs/oj/internal/event"
	"github.com/oddjobs/oj/internal/ojerr"
)

func nowMs() int64 { return time.Now().UnixMilli() }

// Entry is one record in the log: a monotonic sequence number, the
// wall-clock time it was appended, and the event itself.
type Entry struct {
	Seq  uint64      `json:"seq"`
	AtMs int64       `json:"at_ms"`
	Event event.Event `json:"event"`
}

// WAL is a single-file append log with a buffered writer and an explicit
// flush boundary (group commit).
type WAL struct {
	mu   sync.Mutex
	path string
	file *os.File
	buf  *bufio.Writer
	seq  uint64
}

// Open opens (creating if necessary) the log file at path for append, and
// seeds the sequence counter from the highest seq already on disk.
func Open(path string) (*WAL, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, ojerr.Wrap(ojerr.CodeIOWrite, "creating wal directory", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, ojerr.Wrap(ojerr.CodeIOWrite, "opening wal file", err)
	}

	w := &WAL{path: path, file: f, buf: bufio.NewWriter(f)}
	last, err := highestSeq(path)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.seq = last
	return w, nil
}

func highestSeq(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, ojerr.Wrap(ojerr.CodeIORead, "opening wal file for scan", err)
	}
	defer f.Close()

	var last uint64
	r := bufio.NewReader(f)
	for {
		entry, err := readEntry(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			// A trailing partial record from a crashed write is not an
			// error: the tail is simply not consumed, matching the WAL's
			// "incomplete trailing record" boundary behavior.
			break
		}
		last = entry.Seq
	}
	return last, nil
}

// Send appends event e to the buffer and returns the Entry assigned to it.
// The append is visible to EntriesAfter only after Flush.
func (w *WAL) Send(e event.Event) (Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.seq++
	entry := Entry{Seq: w.seq, AtMs: nowMs(), Event: e}
	if err := writeEntry(w.buf, entry); err != nil {
		w.seq--
		return Entry{}, ojerr.Wrap(ojerr.CodeWALWrite, "appending wal entry", err)
	}
	return entry, nil
}

// Seq returns the highest sequence number appended so far, for callers that
// need to pair a snapshot checkpoint with the WAL position it covers.
func (w *WAL) Seq() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seq
}

// Flush fsyncs buffered appends to durable storage.
func (w *WAL) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.buf.Flush(); err != nil {
		return ojerr.Wrap(ojerr.CodeWALWrite, "flushing wal buffer", err)
	}
	if err := w.file.Sync(); err != nil {
		return ojerr.Wrap(ojerr.CodeWALWrite, "fsyncing wal file", err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (w *WAL) Close() error {
	if err := w.Flush(); err != nil {
		return err
	}
	return w.file.Close()
}

// EntriesAfter returns every record strictly after seq, in order, re-reading
// from the start of the file (the log is the source of truth; there is no
// separate in-memory ring buffer to keep consistent).
func (w *WAL) EntriesAfter(seq uint64) ([]Entry, error) {
	w.mu.Lock()
	if err := w.buf.Flush(); err != nil {
		w.mu.Unlock()
		return nil, ojerr.Wrap(ojerr.CodeWALWrite, "flushing before replay", err)
	}
	w.mu.Unlock()

	f, err := os.Open(w.path)
	if err != nil {
		return nil, ojerr.Wrap(ojerr.CodeIORead, "opening wal for replay", err)
	}
	defer f.Close()

	var entries []Entry
	r := bufio.NewReader(f)
	for {
		entry, err := readEntry(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			break // incomplete trailing record; stop, do not fail replay
		}
		if entry.Seq > seq {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func writeEntry(w io.Writer, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling wal entry: %w", err)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func readEntry(r *bufio.Reader) (Entry, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Entry{}, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return Entry{}, io.EOF
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return Entry{}, ojerr.Wrap(ojerr.CodeWALCorrupt, "decoding wal entry", err)
	}
	return entry, nil
}
