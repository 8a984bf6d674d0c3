package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/tierlearn/internal/logging"
	"github.com/ShayCichocki/tierlearn/pkg/models"
)

// Result reports what a compression pass did.
type Result struct {
	Compressed []models.Quarter
	Skipped    []models.Quarter
	Records    int
}

// Compressor turns past-quarter directories under a cold directory into
// compressed archives.
type Compressor struct {
	coldDir string
	level   int
	workers int
	logger  *zap.Logger
	now     func() time.Time // For testing
}

// NewCompressor creates a Compressor. level is a gzip level (1-9); workers
// bounds how many quarters compress in parallel.
func NewCompressor(coldDir string, level, workers int, logger *zap.Logger) *Compressor {
	if workers < 1 {
		workers = 1
	}
	logger = logging.OrNop(logger)
	return &Compressor{coldDir: coldDir, level: level, workers: workers, logger: logger, now: time.Now}
}

// SetClock replaces the time source.
func (c *Compressor) SetClock(now func() time.Time) {
	c.now = now
}

// Level returns the configured gzip level.
func (c *Compressor) Level() int {
	return c.level
}

// Compress bundles every quarter directory other than the current one.
// Loose files left beside an existing archive (an interrupted earlier run or
// a later demotion) are merged into it. The current quarter is never touched.
func (c *Compressor) Compress(ctx context.Context) (*Result, error) {
	current := models.QuarterOf(c.now())

	entries, err := os.ReadDir(c.coldDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Result{}, nil
		}
		return nil, fmt.Errorf("read cold dir: %w", err)
	}

	var (
		result  Result
		pending []models.Quarter
	)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			q, err := models.ParseQuarter(name)
			if err != nil {
				continue
			}
			if q == current {
				result.Skipped = append(result.Skipped, q)
				continue
			}
			pending = append(pending, q)
			continue
		}
		if strings.HasSuffix(name, Ext) {
			q, err := models.ParseQuarter(strings.TrimSuffix(name, Ext))
			if err == nil && !hasDir(entries, q.String()) {
				result.Skipped = append(result.Skipped, q)
			}
		}
	}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)

	for _, q := range pending {
		q := q
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			n, err := c.compressQuarter(q)
			if err != nil {
				return fmt.Errorf("compress %s: %w", q, err)
			}
			mu.Lock()
			result.Compressed = append(result.Compressed, q)
			result.Records += n
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sortQuarters(result.Compressed)
	sortQuarters(result.Skipped)
	return &result, nil
}

func (c *Compressor) compressQuarter(q models.Quarter) (int, error) {
	dir := filepath.Join(c.coldDir, q.String())
	path := Path(c.coldDir, q)

	members, err := ReadAll(path)
	if err != nil {
		return 0, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read quarter dir: %w", err)
	}
	loose := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return 0, fmt.Errorf("read %s: %w", e.Name(), err)
		}
		members[e.Name()] = data
		loose++
	}

	if err := Write(path, members, c.level, c.now()); err != nil {
		return 0, err
	}
	// The archive is durable; only now drop the loose copies.
	if err := os.RemoveAll(dir); err != nil {
		return 0, fmt.Errorf("remove quarter dir: %w", err)
	}

	c.logger.Info("quarter compressed",
		zap.String("quarter", q.String()),
		zap.Int("records", loose),
		zap.Int("archive_members", len(members)),
	)
	return loose, nil
}

func hasDir(entries []os.DirEntry, name string) bool {
	for _, e := range entries {
		if e.IsDir() && e.Name() == name {
			return true
		}
	}
	return false
}

func sortQuarters(qs []models.Quarter) {
	sort.Slice(qs, func(i, j int) bool { return qs[i].Before(qs[j]) })
}
