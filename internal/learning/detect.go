package learning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/ShayCichocki/tierlearn/internal/docstore"
	"github.com/ShayCichocki/tierlearn/pkg/models"
)

// DetectResult summarizes one pass over the incoming directory.
type DetectResult struct {
	Files      int
	Submitted  int
	Duplicates int
	Failed     int
	Demoted    []Transition
	Problems   []string
}

// Detect ingests every submission file the capture step has dropped into
// the incoming directory. Each file holds one record or an array of them.
// Processed files move to incoming/processed, unreadable ones to
// incoming/failed.
func (m *Manager) Detect(ctx context.Context) (*DetectResult, error) {
	dir := m.IncomingDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &DetectResult{}, nil
		}
		return nil, fmt.Errorf("read incoming: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	res := &DetectResult{}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Files++
		path := filepath.Join(dir, name)

		recs, err := readSubmissions(path)
		if err != nil {
			res.Failed++
			res.Problems = append(res.Problems, fmt.Sprintf("%s: %v", name, err))
			m.logger.Warn("unreadable submission file", zap.String("file", name), zap.Error(err))
			if err := m.moveIncoming(path, "failed"); err != nil {
				return res, err
			}
			continue
		}

		for i, rec := range recs {
			sub, moves, err := m.Submit(ctx, rec)
			switch {
			case err == nil:
			case errors.Is(err, ErrConflict) || errors.Is(err, ErrInvalidSubmission):
				res.Failed++
				res.Problems = append(res.Problems, fmt.Sprintf("%s: %v", name, err))
				continue
			default:
				// Leave only the records not yet ingested for the next pass.
				if werr := docstore.WriteJSON(path, recs[i:]); werr != nil {
					return res, errors.Join(err, werr)
				}
				return res, err
			}
			if sub.Duplicate {
				res.Duplicates++
			} else {
				res.Submitted++
			}
			res.Demoted = append(res.Demoted, moves...)
		}

		if err := m.moveIncoming(path, "processed"); err != nil {
			return res, err
		}
	}
	return res, nil
}

// Watch runs Detect whenever a submission file appears in the incoming
// directory, until ctx is done. Existing files are ingested first.
func (m *Manager) Watch(ctx context.Context, onPass func(*DetectResult)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(m.IncomingDir()); err != nil {
		return fmt.Errorf("watch %s: %w", m.IncomingDir(), err)
	}

	pass := func() error {
		res, err := m.Detect(ctx)
		if err != nil {
			return err
		}
		if res.Files > 0 && onPass != nil {
			onPass(res)
		}
		return nil
	}
	if err := pass(); err != nil {
		return err
	}

	// Writers usually create then write; settle briefly before reading.
	const settle = 200 * time.Millisecond
	timer := time.NewTimer(settle)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(event.Name, ".json") {
				continue
			}
			if event.Op&fsnotify.Create != 0 || event.Op&fsnotify.Write != 0 || event.Op&fsnotify.Rename != 0 {
				timer.Reset(settle)
			}
		case <-timer.C:
			if err := pass(); err != nil {
				return err
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.logger.Warn("incoming watcher error", zap.Error(err))
		}
	}
}

func (m *Manager) moveIncoming(path, sub string) error {
	dest := filepath.Join(filepath.Dir(path), sub)
	if err := os.MkdirAll(dest, 0755); err != nil {
		return fmt.Errorf("create %s dir: %w", sub, err)
	}
	target := filepath.Join(dest, m.now().UTC().Format("20060102T150405")+"-"+filepath.Base(path))
	if err := os.Rename(path, target); err != nil {
		return fmt.Errorf("move submission file: %w", err)
	}
	return nil
}

func readSubmissions(path string) ([]*models.LearningRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("empty file")
	}
	if data[0] == '[' {
		var recs []*models.LearningRecord
		if err := json.Unmarshal(data, &recs); err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
		return recs, nil
	}
	var rec models.LearningRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return []*models.LearningRecord{&rec}, nil
}
