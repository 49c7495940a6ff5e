package subgeo

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
)

// Store is the in-memory table of GeoRecords mirrored to a single CSV
// cache file. Safe for concurrent use; Flush calls are serialized.
type Store struct {
	fs     afero.Fs
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	order   []string              // insertion order of codes
	records map[string]*GeoRecord // code → record

	// unreadable is set when the file exists but could not be loaded; the
	// next Flush moves it aside instead of overwriting it.
	unreadable bool

	flushMu sync.Mutex
}

// unreadableSuffix is appended to a cache file that failed to load before
// a new file is written in its place.
const unreadableSuffix = ".unreadable"

// NewStore creates an empty store bound to path. Call Load to read the file.
func NewStore(fs afero.Fs, path string, logger *slog.Logger) *Store {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		fs:      fs,
		path:    path,
		logger:  logger.With("component", "store"),
		records: make(map[string]*GeoRecord),
	}
}

// OpenStore creates a store and loads the cache file. A missing or
// unreadable file leaves the store empty; read errors are only logged.
func OpenStore(fs afero.Fs, path string, logger *slog.Logger) *Store {
	s := NewStore(fs, path, logger)
	if err := s.Load(); err != nil {
		s.logger.Error("failed to load cache, starting empty", "path", path, "error", err)
	}
	return s
}

// Path returns the cache file path.
func (s *Store) Path() string { return s.path }

// Load replaces the in-memory table with the content of the cache file.
// A missing file is not an error. On a read or parse failure the table is
// left empty and the error is returned.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.order = nil
	s.records = make(map[string]*GeoRecord)
	s.unreadable = false

	fh, err := s.fs.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		s.unreadable = true
		return fmt.Errorf("opening cache %s: %w", s.path, err)
	}
	defer fh.Close()

	order, records, err := s.readRows(fh)
	if err != nil {
		s.unreadable = true
		return fmt.Errorf("reading cache %s: %w", s.path, err)
	}
	s.order = order
	s.records = records
	s.logger.Debug("cache loaded", "path", s.path, "rows", len(order))
	return nil
}

func (s *Store) readRows(r io.Reader) ([]string, map[string]*GeoRecord, error) {
	cr := csv.NewReader(bufio.NewReader(r))
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, make(map[string]*GeoRecord), nil
	}
	if err != nil {
		return nil, nil, err
	}
	if len(header) == 0 || header[0] != cacheHeader[0] {
		return nil, nil, fmt.Errorf("unexpected header %v", header)
	}

	var order []string
	records := make(map[string]*GeoRecord)
	line := 1
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				s.logger.Warn("skipping unparseable cache line", "line", perr.StartLine, "error", perr.Err)
				continue
			}
			return nil, nil, err
		}

		rec, cellErrs := decodeRow(row)
		if rec.Code == "" {
			s.logger.Warn("skipping cache row without code", "line", line)
			continue
		}
		for _, cellErr := range cellErrs {
			s.logger.Warn("dropping malformed cache value", "code", rec.Code, "line", line, "error", cellErr)
		}
		if _, dup := records[rec.Code]; dup {
			s.logger.Warn("skipping duplicate cache row", "code", rec.Code, "line", line)
			continue
		}
		order = append(order, rec.Code)
		records[rec.Code] = &rec
	}
	return order, records, nil
}

// Get returns a copy of the record for code.
func (s *Store) Get(code string) (GeoRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[code]
	if !ok {
		return GeoRecord{}, false
	}
	return *rec, true
}

// Upsert merges a partial record into the table. Only the attributes
// present on partial overwrite stored values; a new code is appended.
func (s *Store) Upsert(partial GeoRecord) {
	if partial.Code == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[partial.Code]
	if !ok {
		rec = &GeoRecord{Code: partial.Code}
		s.records[partial.Code] = rec
		s.order = append(s.order, partial.Code)
	}
	if partial.Centroid != nil {
		rec.Centroid = partial.Centroid
	}
	if partial.BoundingBox != nil {
		rec.BoundingBox = partial.BoundingBox
	}
	if partial.Boundary != nil {
		rec.Boundary = partial.Boundary
	}
	if partial.PerimeterKm != nil {
		rec.PerimeterKm = partial.PerimeterKm
	}
	if partial.Neighbours != nil {
		rec.Neighbours = normalizeNeighbours(partial.Neighbours, partial.Code)
	}
}

// Len returns the number of rows.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Records returns copies of all records in insertion order.
func (s *Store) Records() []GeoRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]GeoRecord, 0, len(s.order))
	for _, code := range s.order {
		out = append(out, *s.records[code])
	}
	return out
}

// Flush rewrites the whole cache file from the in-memory table. The file
// is written to a temporary sibling and renamed into place. A file that
// failed to load is first renamed with the ".unreadable" suffix; if that
// fails, nothing is written.
func (s *Store) Flush() error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	if err := s.setAsideUnreadable(); err != nil {
		return err
	}
	rows := s.Records()

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(cacheHeader); err != nil {
		return fmt.Errorf("encoding cache header: %w", err)
	}
	for _, rec := range rows {
		row, err := encodeRow(rec)
		if err != nil {
			return err
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("encoding cache row %s: %w", rec.Code, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("encoding cache: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := s.fs.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating cache directory: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing cache %s: %w", tmp, err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("replacing cache %s: %w", s.path, err)
	}

	s.logger.Debug("cache flushed", "path", s.path, "rows", len(rows), "bytes", buf.Len())
	return nil
}

func (s *Store) setAsideUnreadable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.unreadable {
		return nil
	}
	backup := s.path + unreadableSuffix
	if err := s.fs.Rename(s.path, backup); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("keeping unreadable cache %s: %w", s.path, err)
	}
	s.logger.Warn("unreadable cache moved aside", "path", s.path, "backup", backup)
	s.unreadable = false
	return nil
}

// fileSize returns the size of the cache file, or 0 if it does not exist.
func (s *Store) fileSize() int64 {
	info, err := s.fs.Stat(s.path)
	if err != nil {
		return 0
	}
	return info.Size()
}
