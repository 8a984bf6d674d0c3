package learning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ShayCichocki/tierlearn/internal/archive"
	"github.com/ShayCichocki/tierlearn/internal/docstore"
	"github.com/ShayCichocki/tierlearn/pkg/models"
)

// coldName names the Cold-tier directory and its lock.
const coldName = "cold"

// ColdLocation says where a Cold record was found.
type ColdLocation struct {
	Quarter  models.Quarter
	Archived bool
	Path     string
}

// QuarterInfo summarizes one Cold quarter.
type QuarterInfo struct {
	Quarter    models.Quarter
	Loose      int
	Archived   int
	HasDir     bool
	Compressed bool
}

// Cold is the quarter-partitioned Cold-tier store.
type Cold struct {
	store      *docstore.Store
	compressor *archive.Compressor
	now        func() time.Time
}

// NewCold creates a Cold store under the state store.
func NewCold(store *docstore.Store, level, workers int, logger *zap.Logger) *Cold {
	return &Cold{
		store:      store,
		compressor: archive.NewCompressor(store.Path(coldName), level, workers, logger),
		now:        time.Now,
	}
}

// SetClock replaces the time source, including the compressor's.
func (c *Cold) SetClock(now func() time.Time) {
	c.now = now
	c.compressor.SetClock(now)
}

// Dir returns the Cold directory.
func (c *Cold) Dir() string {
	return c.store.Path(coldName)
}

// Get locates a Cold record in a loose quarter directory or an archive.
func (c *Cold) Get(id string) (*models.LearningRecord, *ColdLocation, error) {
	return c.find(id)
}

// List returns every Cold record, loose and archived.
func (c *Cold) List() ([]*models.LearningRecord, error) {
	quarters, err := c.Quarters()
	if err != nil {
		return nil, err
	}
	var out []*models.LearningRecord
	for _, qi := range quarters {
		if qi.Compressed {
			members, err := archive.ReadAll(archive.Path(c.Dir(), qi.Quarter))
			if err != nil {
				return nil, err
			}
			for name, data := range members {
				rec, err := decodeColdRecord(name, data)
				if err != nil {
					return nil, err
				}
				out = append(out, rec)
			}
		}
		if qi.HasDir {
			recs, err := c.loose(qi.Quarter)
			if err != nil {
				return nil, err
			}
			out = append(out, recs...)
		}
	}
	sortByCreated(out)
	return out, nil
}

// Quarters summarizes each quarter present on disk, oldest first.
func (c *Cold) Quarters() ([]QuarterInfo, error) {
	entries, err := os.ReadDir(c.Dir())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read cold dir: %w", err)
	}

	byQuarter := make(map[models.Quarter]*QuarterInfo)
	info := func(q models.Quarter) *QuarterInfo {
		if qi, ok := byQuarter[q]; ok {
			return qi
		}
		qi := &QuarterInfo{Quarter: q}
		byQuarter[q] = qi
		return qi
	}

	for _, e := range entries {
		name := e.Name()
		switch {
		case e.IsDir():
			q, err := models.ParseQuarter(name)
			if err != nil {
				continue
			}
			files, err := os.ReadDir(filepath.Join(c.Dir(), name))
			if err != nil {
				return nil, fmt.Errorf("read quarter %s: %w", name, err)
			}
			qi := info(q)
			qi.HasDir = true
			for _, f := range files {
				if strings.HasSuffix(f.Name(), ".json") {
					qi.Loose++
				}
			}
		case strings.HasSuffix(name, archive.Ext):
			q, err := models.ParseQuarter(strings.TrimSuffix(name, archive.Ext))
			if err != nil {
				continue
			}
			members, err := archive.Members(filepath.Join(c.Dir(), name))
			if err != nil {
				return nil, err
			}
			qi := info(q)
			qi.Compressed = true
			qi.Archived = len(members)
		}
	}

	out := make([]QuarterInfo, 0, len(byQuarter))
	for _, qi := range byQuarter {
		out = append(out, *qi)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Quarter.Before(out[j].Quarter) })
	return out, nil
}

// Compress bundles every past quarter under the Cold lock.
func (c *Cold) Compress(ctx context.Context) (*archive.Result, error) {
	var res *archive.Result
	err := c.withLock(ctx, func() error {
		var err error
		res, err = c.compressor.Compress(ctx)
		return err
	})
	return res, err
}

func (c *Cold) withLock(ctx context.Context, fn func() error) error {
	return c.store.WithLock(ctx, coldName, fn)
}

// put writes rec into the quarter of its demotion time without locking.
func (c *Cold) put(rec *models.LearningRecord) error {
	at := c.now()
	if rec.DemotedAt != nil {
		at = *rec.DemotedAt
	}
	q := models.QuarterOf(at)
	path := filepath.Join(c.Dir(), q.String(), rec.ID+".json")
	return docstore.WriteJSON(path, rec)
}

// find searches loose quarter directories newest first, then archives.
func (c *Cold) find(id string) (*models.LearningRecord, *ColdLocation, error) {
	if !safeID(id) {
		return nil, nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	quarters, err := c.Quarters()
	if err != nil {
		return nil, nil, err
	}
	member := id + ".json"

	for i := len(quarters) - 1; i >= 0; i-- {
		qi := quarters[i]
		if !qi.HasDir {
			continue
		}
		path := filepath.Join(c.Dir(), qi.Quarter.String(), member)
		var rec models.LearningRecord
		found, err := docstore.ReadJSON(path, &rec)
		if err != nil {
			return nil, nil, err
		}
		if found {
			return &rec, &ColdLocation{Quarter: qi.Quarter, Path: path}, nil
		}
	}

	for i := len(quarters) - 1; i >= 0; i-- {
		qi := quarters[i]
		if !qi.Compressed {
			continue
		}
		path := archive.Path(c.Dir(), qi.Quarter)
		data, err := archive.Extract(path, member)
		if errors.Is(err, archive.ErrMemberNotFound) {
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		rec, err := decodeColdRecord(member, data)
		if err != nil {
			return nil, nil, err
		}
		return rec, &ColdLocation{Quarter: qi.Quarter, Archived: true, Path: path}, nil
	}

	return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// take removes a located record from Cold storage without locking.
func (c *Cold) take(id string, loc *ColdLocation) error {
	if !loc.Archived {
		if err := os.Remove(loc.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove cold record: %w", err)
		}
		return nil
	}
	err := archive.Remove(loc.Path, id+".json", c.compressor.Level(), c.now())
	if errors.Is(err, archive.ErrMemberNotFound) {
		return nil
	}
	return err
}

func (c *Cold) loose(q models.Quarter) ([]*models.LearningRecord, error) {
	dir := filepath.Join(c.Dir(), q.String())
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read quarter %s: %w", q, err)
	}
	var out []*models.LearningRecord
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		var rec models.LearningRecord
		if _, err := docstore.ReadJSON(filepath.Join(dir, e.Name()), &rec); err != nil {
			return nil, err
		}
		out = append(out, &rec)
	}
	return out, nil
}

func decodeColdRecord(name string, data []byte) (*models.LearningRecord, error) {
	var rec models.LearningRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: archived %s: %v", docstore.ErrMalformed, name, err)
	}
	return &rec, nil
}
