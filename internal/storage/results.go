package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"
	"github.com/bl4ck0w1/easmscan/pkg/models"
	"github.com/bl4ck0w1/easmscan/pkg/utils"
)

var ErrResultNotFound = errors.New("scan result not found")

var scanIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ResultSummary is the listing view of a stored result.
type ResultSummary struct {
	ScanID      string        `json:"scanId" yaml:"scan_id"`
	Target      models.Target `json:"target" yaml:"target"`
	Timestamp   time.Time     `json:"timestamp" yaml:"timestamp"`
	DurationMs  int64         `json:"scanDuration" yaml:"scan_duration_ms"`
	TotalIssues int           `json:"totalIssues" yaml:"total_issues"`
	Path        string        `json:"path" yaml:"path"`
}

// ResultStore keeps completed scan results as one JSON file per scan under
// <dataDir>/results, optionally gzipped. Loaded results are cached.
type ResultStore struct {
	dir      string
	compress bool
	logger   *logrus.Logger

	mu    sync.RWMutex
	cache map[string]*models.ScanResult
}

func NewResultStore(dataDir string, compress bool, logger *logrus.Logger) (*ResultStore, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if dataDir == "" {
		return nil, errors.New("data directory is required")
	}
	dir := filepath.Join(dataDir, "results")
	if err := utils.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("failed to create results directory: %w", err)
	}
	return &ResultStore{
		dir:      dir,
		compress: compress,
		logger:   logger,
		cache:    make(map[string]*models.ScanResult),
	}, nil
}

func (s *ResultStore) Dir() string { return s.dir }

func (s *ResultStore) Save(result *models.ScanResult) (string, error) {
	if result == nil {
		return "", errors.New("result is nil")
	}
	if !scanIDPattern.MatchString(result.ScanID) {
		return "", fmt.Errorf("invalid scan id %q", result.ScanID)
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}

	path := filepath.Join(s.dir, result.ScanID+".json")
	if s.compress {
		var buf bytes.Buffer
		gw := gzip.NewWriter(&buf)
		gw.Name = result.ScanID + ".json"
		gw.ModTime = result.Timestamp
		if _, err := gw.Write(data); err != nil {
			return "", fmt.Errorf("compress result: %w", err)
		}
		if err := gw.Close(); err != nil {
			return "", fmt.Errorf("compress result: %w", err)
		}
		data = buf.Bytes()
		path += ".gz"
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := utils.SafeWriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write result: %w", err)
	}
	s.cache[result.ScanID] = result
	s.logger.Debugf("Result %s saved to %s (%s)", result.ScanID, path, humanize.Bytes(uint64(len(data))))
	return path, nil
}

func (s *ResultStore) Load(scanID string) (*models.ScanResult, error) {
	if !scanIDPattern.MatchString(scanID) {
		return nil, fmt.Errorf("%w: %s", ErrResultNotFound, scanID)
	}

	s.mu.RLock()
	if r, ok := s.cache[scanID]; ok {
		s.mu.RUnlock()
		return r, nil
	}
	s.mu.RUnlock()

	for _, name := range []string{scanID + ".json", scanID + ".json.gz"} {
		path := filepath.Join(s.dir, name)
		r, err := readResult(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.cache[scanID] = r
		s.mu.Unlock()
		return r, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrResultNotFound, scanID)
}

// List returns stored results newest first. Unreadable files are skipped.
func (s *ResultStore) List() ([]ResultSummary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read results directory: %w", err)
	}

	out := make([]ResultSummary, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !isResultFile(e.Name()) {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		r, err := readResult(path)
		if err != nil {
			s.logger.Warnf("Failed to parse result %s: %v", path, err)
			continue
		}
		out = append(out, ResultSummary{
			ScanID:      r.ScanID,
			Target:      r.Target,
			Timestamp:   r.Timestamp,
			DurationMs:  r.Duration.Milliseconds(),
			TotalIssues: r.Summary.TotalIssues,
			Path:        path,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

// Prune removes result files last written before now-retention.
func (s *ResultStore) Prune(retention time.Duration) (int, error) {
	if retention <= 0 {
		return 0, nil
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read results directory: %w", err)
	}

	cutoff := time.Now().Add(-retention)
	removed := 0
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		if e.IsDir() || !isResultFile(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		if err := os.Remove(path); err != nil {
			s.logger.Warnf("Failed to remove old result %s: %v", path, err)
			continue
		}
		delete(s.cache, scanIDFromFile(e.Name()))
		removed++
	}
	if removed > 0 {
		s.logger.Infof("Pruned %d results older than %s", removed, utils.HumanizeDuration(retention))
	}
	return removed, nil
}

func (s *ResultStore) Stats() (map[string]interface{}, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read results directory: %w", err)
	}
	var (
		count int
		size  int64
	)
	for _, e := range entries {
		if e.IsDir() || !isResultFile(e.Name()) {
			continue
		}
		if info, err := e.Info(); err == nil {
			size += info.Size()
		}
		count++
	}
	return map[string]interface{}{
		"results":             count,
		"total_size_bytes":    size,
		"total_size_human":    humanize.Bytes(uint64(size)),
		"compression_enabled": s.compress,
		"directory":           s.dir,
	}, nil
}

func readResult(path string) (*models.ScanResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gr, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		defer gr.Close()
		r = gr
	}

	var result models.ScanResult
	if err := json.NewDecoder(r).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode result %s: %w", filepath.Base(path), err)
	}
	return &result, nil
}

func isResultFile(name string) bool {
	return strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".json.gz")
}

func scanIDFromFile(name string) string {
	return strings.TrimSuffix(strings.TrimSuffix(name, ".gz"), ".json")
}
