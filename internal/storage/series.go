package storage

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	apperrors "github.com/johnayoung/cexdata/internal/errors"
	"github.com/johnayoung/cexdata/internal/gaps"
	"github.com/johnayoung/cexdata/internal/models"
)

// Header is the first row of every series file.
var Header = []string{"timestamp", "open", "high", "low", "close", "volume"}

// SeriesStore is the CSV backed FullStorage. It is safe for concurrent use;
// writes to the same series are serialized.
type SeriesStore struct {
	root   string
	logger *slog.Logger

	locks sync.Map // SeriesKey -> *sync.Mutex
}

// NewSeriesStore creates a store rooted at dataDir. The directory is created
// lazily on the first write.
func NewSeriesStore(dataDir string, logger *slog.Logger) *SeriesStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SeriesStore{
		root:   dataDir,
		logger: logger,
	}
}

// Root returns the data directory.
func (s *SeriesStore) Root() string {
	return s.root
}

// Path returns the absolute location of the series file for key.
func (s *SeriesStore) Path(key SeriesKey) string {
	return filepath.Join(s.root, key.RelPath())
}

func (s *SeriesStore) lock(key SeriesKey) func() {
	m, _ := s.locks.LoadOrStore(key, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// LastStoredTimestamp implements SeriesReader.
func (s *SeriesStore) LastStoredTimestamp(ctx context.Context, key SeriesKey) (int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}

	candles, err := readSeries(s.Path(key))
	if err != nil {
		var notFound *apperrors.SeriesNotFoundError
		if errors.As(err, &notFound) {
			return 0, false, nil
		}
		return 0, false, err
	}

	return lastTimestamp(candles)
}

// IsCaughtUpTo implements SeriesReader.
func (s *SeriesStore) IsCaughtUpTo(ctx context.Context, key SeriesKey, target int64) (bool, error) {
	last, ok, err := s.LastStoredTimestamp(ctx, key)
	if err != nil {
		return false, err
	}
	return ok && last >= target, nil
}

// AppendMerged implements SeriesWriter.
func (s *SeriesStore) AppendMerged(ctx context.Context, key SeriesKey, rows []models.Candle) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	batch := models.DedupSorted(rows)
	if len(batch) == 0 {
		return 0, nil
	}

	unlock := s.lock(key)
	defer unlock()

	path := s.Path(key)
	existing, err := readSeries(path)
	exists := true
	if err != nil {
		var notFound *apperrors.SeriesNotFoundError
		if !errors.As(err, &notFound) {
			return 0, err
		}
		exists = false
	}

	if exists {
		if last, ok, _ := lastTimestamp(existing); ok {
			batch = after(batch, last)
		}
	}
	if len(batch) == 0 {
		s.logger.Debug("Nothing new to append", "series", key.String(), "path", path)
		return 0, nil
	}

	if exists {
		err = appendRows(path, batch)
	} else {
		err = createSeries(path, batch)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to write series %s: %w", key, err)
	}

	s.logger.Debug("Appended candles to series",
		"series", key.String(),
		"path", path,
		"rows", len(batch),
		"created", !exists,
	)
	return len(batch), nil
}

// Load implements SeriesLoader.
func (s *SeriesStore) Load(ctx context.Context, key SeriesKey, start, end time.Time) ([]models.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	candles, err := readSeries(s.Path(key))
	if err != nil {
		return nil, err
	}

	candles = models.DedupSorted(candles)
	sliced := make([]models.Candle, 0, len(candles))
	for _, c := range candles {
		if !start.IsZero() && c.Timestamp < start.UnixMilli() {
			continue
		}
		if !end.IsZero() && c.Timestamp >= end.UnixMilli() {
			break
		}
		sliced = append(sliced, c)
	}

	if len(sliced) == 0 {
		return sliced, nil
	}
	return sliced[:len(sliced)-1], nil
}

// Inventory implements SeriesInventory. Files are expected at
// <root>/<exchange>/<interval>/<PAIR>.csv; anything else is ignored.
func (s *SeriesStore) Inventory(ctx context.Context) ([]SeriesInfo, error) {
	var infos []SeriesInfo

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == s.root && errors.Is(walkErr, fs.ErrNotExist) {
				return filepath.SkipDir
			}
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".csv" {
			return nil
		}

		key, ok := s.keyFromPath(path)
		if !ok {
			return nil
		}

		info, err := s.describe(path, key)
		if err != nil {
			s.logger.Warn("Skipping unreadable series file",
				"path", path,
				"error", err,
			)
			return nil
		}
		infos = append(infos, info)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk data directory %s: %w", s.root, err)
	}

	return infos, nil
}

func (s *SeriesStore) keyFromPath(path string) (SeriesKey, bool) {
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return SeriesKey{}, false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 3 {
		return SeriesKey{}, false
	}
	return SeriesKey{
		Exchange: parts[0],
		Interval: parts[1],
		Pair:     strings.ReplaceAll(strings.TrimSuffix(parts[2], ".csv"), "-", "/"),
	}, true
}

func (s *SeriesStore) describe(path string, key SeriesKey) (SeriesInfo, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return SeriesInfo{}, err
	}

	candles, err := readSeries(path)
	if err != nil {
		return SeriesInfo{}, err
	}
	candles = models.DedupSorted(candles)

	info := SeriesInfo{
		Key:       key,
		Path:      path,
		Rows:      len(candles),
		SizeBytes: stat.Size(),
	}
	if len(candles) > 0 {
		info.FirstTime = candles[0].Time()
		info.LastTime = candles[len(candles)-1].Time()
	}
	if interval, err := models.ParseInterval(key.Interval); err == nil {
		for _, hole := range gaps.DetectHoles(candles, interval) {
			info.Holes++
			info.Missing += hole.Missing
		}
	}
	return info, nil
}

// lastTimestamp returns the greatest timestamp of candles.
func lastTimestamp(candles []models.Candle) (int64, bool, error) {
	if len(candles) == 0 {
		return 0, false, nil
	}
	last := candles[0].Timestamp
	for _, c := range candles[1:] {
		if c.Timestamp > last {
			last = c.Timestamp
		}
	}
	return last, true, nil
}

// after returns the tail of the sorted batch strictly after ts.
func after(batch []models.Candle, ts int64) []models.Candle {
	for i, c := range batch {
		if c.Timestamp > ts {
			return batch[i:]
		}
	}
	return nil
}

// readSeries parses a whole series file in file order.
func readSeries(path string) ([]models.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &apperrors.SeriesNotFoundError{Path: path}
		}
		return nil, fmt.Errorf("failed to open series %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	var candles []models.Candle
	for line := 1; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &apperrors.CorruptSeriesError{Path: path, Line: line, Err: err}
		}

		if line == 1 {
			if len(record) != len(Header) || strings.TrimSpace(record[0]) != Header[0] {
				return nil, &apperrors.CorruptSeriesError{
					Path: path,
					Line: line,
					Err:  fmt.Errorf("unexpected header %q", strings.Join(record, ",")),
				}
			}
			continue
		}

		candle, err := parseRecord(record)
		if err != nil {
			return nil, &apperrors.CorruptSeriesError{Path: path, Line: line, Err: err}
		}
		candles = append(candles, candle)
	}

	return candles, nil
}

func parseRecord(record []string) (models.Candle, error) {
	if len(record) != len(Header) {
		return models.Candle{}, fmt.Errorf("expected %d fields, got %d", len(Header), len(record))
	}

	ts, err := parseTimestamp(record[0])
	if err != nil {
		return models.Candle{}, err
	}

	var values [5]float64
	for i := range values {
		values[i], err = strconv.ParseFloat(strings.TrimSpace(record[i+1]), 64)
		if err != nil {
			return models.Candle{}, fmt.Errorf("invalid %s: %w", Header[i+1], err)
		}
	}

	return models.Candle{
		Timestamp: ts,
		Open:      values[0],
		High:      values[1],
		Low:       values[2],
		Close:     values[3],
		Volume:    values[4],
	}, nil
}

// parseTimestamp accepts integer milliseconds and the float rendering some
// tools write for them ("1483228800000.0").
func parseTimestamp(field string) (int64, error) {
	field = strings.TrimSpace(field)
	if ts, err := strconv.ParseInt(field, 10, 64); err == nil {
		return ts, nil
	}
	f, err := strconv.ParseFloat(field, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp %q", field)
	}
	return int64(f), nil
}

func formatRecord(c models.Candle) []string {
	return []string{
		strconv.FormatInt(c.Timestamp, 10),
		strconv.FormatFloat(c.Open, 'f', -1, 64),
		strconv.FormatFloat(c.High, 'f', -1, 64),
		strconv.FormatFloat(c.Low, 'f', -1, 64),
		strconv.FormatFloat(c.Close, 'f', -1, 64),
		strconv.FormatFloat(c.Volume, 'f', -1, 64),
	}
}

func writeRows(w io.Writer, rows []models.Candle, header bool) error {
	writer := csv.NewWriter(w)
	if header {
		if err := writer.Write(Header); err != nil {
			return err
		}
	}
	for _, c := range rows {
		if err := writer.Write(formatRecord(c)); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// createSeries writes header and rows to a temporary file and renames it into
// place, so a crash never leaves a half written new series.
func createSeries(path string, rows []models.Candle) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create series directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".series-*.csv.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := writeRows(tmp, rows, true); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// appendRows appends rows to an existing series. An empty file gets the header
// first.
func appendRows(path string, rows []models.Candle) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	if size := stat.Size(); size > 0 {
		// A hand-edited file may lack the final newline.
		last := make([]byte, 1)
		if _, err := f.ReadAt(last, size-1); err != nil {
			f.Close()
			return err
		}
		if last[0] != '\n' {
			if _, err := f.Write([]byte{'\n'}); err != nil {
				f.Close()
				return err
			}
		}
	}
	if err := writeRows(f, rows, stat.Size() == 0); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
