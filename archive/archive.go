// Package archive keeps a sampled history of encoded frames in a Pebble
// key/value store so recent camera output survives a viewer restart.
//
// Key layout:
//
//	f|<unix nanos, big-endian uint64> -> <digest uint64><payload bytes>
//
// Keys sort by capture time, so Latest is a reverse seek and retention purges
// are a single range delete.
package archive

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/dustin/go-humanize"
)

const (
	framePrefix = "f|"
	keySize     = len(framePrefix) + 8
	valueHeader = 8
)

const (
	defaultCacheSizeBytes    = int64(8 << 20)  // 8MB block cache; reads are rare
	defaultMemTableSizeBytes = uint64(8 << 20) // 8MB write buffer absorbs a burst of frames
	defaultWriteQueueDepth   = 16              // Buffered channel depth feeding the single writer
	defaultInterval          = time.Second
)

var (
	errStoreClosed  = errors.New("archive: store is closed")
	errNotOpen      = errors.New("archive: store is not initialized")
	errInvalidValue = errors.New("archive: invalid frame encoding")
)

// Options controls Pebble tuning and sampling for the frame archive.
// All zero/negative fields are replaced with defaults via sanitizeOptions.
type Options struct {
	CacheSizeBytes    int64
	MemTableSizeBytes uint64
	WriteQueueDepth   int
	// Interval is the minimum spacing between archived frames.
	Interval time.Duration
}

// Record is one archived frame.
type Record struct {
	At      time.Time
	Digest  uint64
	Payload []byte
}

// Store manages the Pebble database that holds archived frames.
type Store struct {
	db       *pebble.DB
	cache    *pebble.Cache
	writes   chan writeRequest
	done     chan struct{}
	interval time.Duration

	mu     sync.Mutex
	closed bool

	count   atomic.Int64
	bytes   atomic.Int64
	lastPut atomic.Int64
	dropped atomic.Uint64
}

type writeKind int

const (
	writePut writeKind = iota
	writePurge
	writeBarrier
)

type writeRequest struct {
	kind   writeKind
	rec    Record
	cutoff time.Time
	resp   chan writeResult
}

type writeResult struct {
	removed int64
	err     error
}

func sanitizeOptions(opts Options) Options {
	if opts.CacheSizeBytes <= 0 {
		opts.CacheSizeBytes = defaultCacheSizeBytes
	}
	if opts.MemTableSizeBytes <= 0 {
		opts.MemTableSizeBytes = defaultMemTableSizeBytes
	}
	if opts.WriteQueueDepth <= 0 {
		opts.WriteQueueDepth = defaultWriteQueueDepth
	}
	if opts.Interval < 0 {
		opts.Interval = defaultInterval
	}
	return opts
}

// Purpose: Open or create the frame archive.
// Key aspects: Counts existing frames and spins a single writer goroutine.
// Upstream: main.go startup, tests.
// Downstream: Pebble open, writer loop.
func Open(path string, opts Options) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("archive: database path is empty")
	}
	opts = sanitizeOptions(opts)
	if info, err := os.Stat(path); err == nil {
		if !info.IsDir() {
			return nil, fmt.Errorf("archive: %s exists and is not a directory", path)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("archive: stat path: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("archive: ensure directory: %w", err)
	}

	cache := pebble.NewCache(opts.CacheSizeBytes)
	db, err := pebble.Open(path, &pebble.Options{
		Cache:        cache,
		MemTableSize: opts.MemTableSizeBytes,
	})
	if err != nil {
		cache.Unref()
		return nil, fmt.Errorf("archive: open: %w", err)
	}

	store := &Store{
		db:       db,
		cache:    cache,
		writes:   make(chan writeRequest, opts.WriteQueueDepth),
		done:     make(chan struct{}),
		interval: opts.Interval,
	}
	if err := store.loadTotals(); err != nil {
		_ = db.Close()
		cache.Unref()
		return nil, err
	}
	go store.writeLoop()
	return store, nil
}

func (s *Store) loadTotals() error {
	iter, err := s.db.NewIter(iterOptionsForPrefix(framePrefix))
	if err != nil {
		return fmt.Errorf("archive: count iterator: %w", err)
	}
	defer iter.Close()
	var n, size int64
	for iter.First(); iter.Valid(); iter.Next() {
		n++
		size += int64(len(iter.Value()))
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("archive: count frames: %w", err)
	}
	s.count.Store(n)
	s.bytes.Store(size)
	return nil
}

// Close writes out queued frames, then releases Pebble and its block cache.
// Puts after Close are ignored.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if s.closeWriter() {
		<-s.done
	}
	err := s.db.Close()
	if s.cache != nil {
		s.cache.Unref()
		s.cache = nil
	}
	return err
}

// Purpose: Offer a frame for archiving.
// Key aspects: Frames arriving within Interval of the last accepted one are
// skipped; the payload is copied because callers reuse their buffer; a full
// queue drops the frame rather than stall the stream.
// Upstream: main stream event fan-out.
// Downstream: writer loop.
func (s *Store) Put(at time.Time, digest uint64, payload []byte) bool {
	if s == nil || s.db == nil || len(payload) == 0 {
		return false
	}
	nanos := at.UnixNano()
	last := s.lastPut.Load()
	if last != 0 && s.interval > 0 && nanos-last < int64(s.interval) {
		return false
	}
	if !s.lastPut.CompareAndSwap(last, nanos) {
		return false
	}
	rec := Record{At: at, Digest: digest, Payload: append([]byte(nil), payload...)}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.writes <- writeRequest{kind: writePut, rec: rec}:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Flush waits until every frame queued before the call is written.
func (s *Store) Flush() error {
	if s == nil || s.db == nil {
		return errNotOpen
	}
	resp := make(chan writeResult, 1)
	if err := s.enqueue(writeRequest{kind: writeBarrier, resp: resp}); err != nil {
		return err
	}
	return (<-resp).err
}

// Purpose: Delete frames captured before the cutoff.
// Key aspects: Single range delete through the writer; returns frames removed.
// Upstream: retention loop, tests.
// Downstream: writer loop.
func (s *Store) PurgeOlderThan(cutoff time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errNotOpen
	}
	resp := make(chan writeResult, 1)
	if err := s.enqueue(writeRequest{kind: writePurge, cutoff: cutoff, resp: resp}); err != nil {
		return 0, err
	}
	result := <-resp
	return result.removed, result.err
}

// Purpose: Fetch the most recent archived frame.
// Key aspects: Returns ok=false on an empty archive.
// Upstream: main startup (show last frame before the first connect), tests.
// Downstream: Pebble reverse iterator.
func (s *Store) Latest() (Record, bool, error) {
	if s == nil || s.db == nil {
		return Record{}, false, errNotOpen
	}
	iter, err := s.db.NewIter(iterOptionsForPrefix(framePrefix))
	if err != nil {
		return Record{}, false, fmt.Errorf("archive: latest iterator: %w", err)
	}
	defer iter.Close()
	if !iter.Last() {
		return Record{}, false, iter.Error()
	}
	rec, err := decodeRecord(iter.Key(), iter.Value())
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

// Purpose: List archived frames captured at or after since, oldest first.
// Key aspects: limit <= 0 returns everything.
// Upstream: tests, diagnostics.
// Downstream: Pebble iterator.
func (s *Store) Since(since time.Time, limit int) ([]Record, error) {
	if s == nil || s.db == nil {
		return nil, errNotOpen
	}
	opts := iterOptionsForPrefix(framePrefix)
	opts.LowerBound = frameKey(since)
	iter, err := s.db.NewIter(opts)
	if err != nil {
		return nil, fmt.Errorf("archive: since iterator: %w", err)
	}
	defer iter.Close()
	var out []Record
	for iter.First(); iter.Valid(); iter.Next() {
		rec, err := decodeRecord(iter.Key(), iter.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("archive: iterate frames: %w", err)
	}
	return out, nil
}

// Count returns the number of archived frames.
func (s *Store) Count() int64 {
	if s == nil {
		return 0
	}
	return s.count.Load()
}

// Dropped returns frames discarded because the writer queue was full.
func (s *Store) Dropped() uint64 {
	if s == nil {
		return 0
	}
	return s.dropped.Load()
}

// Summary renders a one-line status for logs and the stats pane.
func (s *Store) Summary() string {
	if s == nil {
		return "Archive: disabled"
	}
	return fmt.Sprintf("Archive: %s frames (%s), %d dropped",
		humanize.Comma(s.count.Load()),
		humanize.IBytes(uint64(s.bytes.Load())),
		s.dropped.Load())
}

// Purpose: Periodically purge frames older than retention.
// Key aspects: Runs until stop closes; errors are logged and retried next tick.
// Upstream: main.go startup.
// Downstream: PurgeOlderThan.
func (s *Store) StartRetention(retention, every time.Duration, stop <-chan struct{}) {
	if s == nil || retention <= 0 {
		return
	}
	if every <= 0 {
		every = time.Minute
	}
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case now := <-ticker.C:
				removed, err := s.PurgeOlderThan(now.Add(-retention))
				if err != nil {
					if !errors.Is(err, errStoreClosed) {
						log.Printf("Archive: purge failed: %v", err)
					}
					return
				}
				if removed > 0 {
					log.Printf("Archive: purged %d frames older than %s", removed, retention)
				}
			}
		}
	}()
}

func (s *Store) enqueue(req writeRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStoreClosed
	}
	s.writes <- req
	return nil
}

func (s *Store) closeWriter() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	close(s.writes)
	return true
}

func (s *Store) writeLoop() {
	defer close(s.done)
	for req := range s.writes {
		result := writeResult{}
		switch req.kind {
		case writePut:
			if err := s.applyPut(req.rec); err != nil {
				log.Printf("Archive: write failed: %v", err)
			}
		case writePurge:
			result.removed, result.err = s.applyPurge(req.cutoff)
		case writeBarrier:
		}
		if req.resp != nil {
			req.resp <- result
		}
	}
}

func (s *Store) applyPut(rec Record) error {
	key := frameKey(rec.At)
	value := make([]byte, valueHeader+len(rec.Payload))
	binary.BigEndian.PutUint64(value, rec.Digest)
	copy(value[valueHeader:], rec.Payload)

	existed := false
	if old, closer, err := s.db.Get(key); err == nil {
		existed = true
		s.bytes.Add(-int64(len(old)))
		closer.Close()
	} else if !errors.Is(err, pebble.ErrNotFound) {
		return fmt.Errorf("archive: get: %w", err)
	}
	if err := s.db.Set(key, value, pebble.NoSync); err != nil {
		return fmt.Errorf("archive: set: %w", err)
	}
	if !existed {
		s.count.Add(1)
	}
	s.bytes.Add(int64(len(value)))
	return nil
}

func (s *Store) applyPurge(cutoff time.Time) (int64, error) {
	lower := []byte(framePrefix)
	upper := frameKey(cutoff)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return 0, fmt.Errorf("archive: purge iterator: %w", err)
	}
	var removed, size int64
	for iter.First(); iter.Valid(); iter.Next() {
		removed++
		size += int64(len(iter.Value()))
	}
	iterErr := iter.Error()
	iter.Close()
	if iterErr != nil {
		return 0, fmt.Errorf("archive: purge scan: %w", iterErr)
	}
	if removed == 0 {
		return 0, nil
	}
	if err := s.db.DeleteRange(lower, upper, pebble.Sync); err != nil {
		return 0, fmt.Errorf("archive: purge: %w", err)
	}
	s.count.Add(-removed)
	s.bytes.Add(-size)
	return removed, nil
}

func frameKey(at time.Time) []byte {
	key := make([]byte, keySize)
	copy(key, framePrefix)
	var nanos int64
	if at.After(time.Unix(0, 0)) {
		nanos = at.UnixNano()
	}
	binary.BigEndian.PutUint64(key[len(framePrefix):], uint64(nanos))
	return key
}

func decodeRecord(key, value []byte) (Record, error) {
	if len(key) != keySize || len(value) < valueHeader {
		return Record{}, errInvalidValue
	}
	nanos := binary.BigEndian.Uint64(key[len(framePrefix):])
	return Record{
		At:      time.Unix(0, int64(nanos)),
		Digest:  binary.BigEndian.Uint64(value),
		Payload: append([]byte(nil), value[valueHeader:]...),
	}, nil
}

func iterOptionsForPrefix(prefix string) *pebble.IterOptions {
	lower := []byte(prefix)
	upper := prefixUpperBound(lower)
	return &pebble.IterOptions{LowerBound: lower, UpperBound: upper}
}

func prefixUpperBound(prefix []byte) []byte {
	if len(prefix) == 0 {
		return nil
	}
	upper := make([]byte, len(prefix))
	copy(upper, prefix)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] != 0xFF {
			upper[i]++
			return upper[:i+1]
		}
	}
	return nil
}
