// Package artifacts writes the output files consumed by the skill-activation
// system: pattern documents, the learned-preferences list, and skill trigger
// rules.
package artifacts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/tierlearn/internal/docstore"
	"github.com/ShayCichocki/tierlearn/internal/logging"
	"github.com/ShayCichocki/tierlearn/pkg/models"
)

// Artifact file locations, relative to the artifacts directory.
const (
	PatternsDir     = "patterns"
	PreferencesFile = "preferences.md"
	SkillRulesFile  = "skill-rules.json"
)

const preferencesHeader = "# Learned Preferences\n\n"

var slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)

// Slug turns an identifier into a file-name-safe token.
func Slug(s string) string {
	slug := strings.Trim(slugInvalid.ReplaceAllString(strings.ToLower(s), "-"), "-")
	if slug == "" {
		return "learning"
	}
	return slug
}

// PatternPath returns the relative path of a record's pattern document.
func PatternPath(rec *models.LearningRecord) string {
	return filepath.Join(PatternsDir, Slug(rec.ID)+".md")
}

// SkillRule is one skill's trigger entry.
type SkillRule struct {
	Keywords  []string  `json:"keywords"`
	Learnings []string  `json:"learnings,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SkillRules is the trigger-rules document read by the skill-activation system.
type SkillRules struct {
	Version int                   `json:"version"`
	Skills  map[string]*SkillRule `json:"skills"`
}

// patternFrontMatter is the YAML header of a pattern document.
type patternFrontMatter struct {
	ID         string   `yaml:"id"`
	Type       string   `yaml:"type"`
	PatternKey string   `yaml:"pattern_key"`
	Frequency  int      `yaml:"frequency"`
	Confidence float64  `yaml:"confidence"`
	Scope      string   `yaml:"scope,omitempty"`
	Skill      string   `yaml:"skill,omitempty"`
	Keywords   []string `yaml:"keywords,omitempty"`
	Created    string   `yaml:"created"`
	Applied    string   `yaml:"applied"`
}

// Writer produces artifacts under a root directory.
type Writer struct {
	store  *docstore.Store
	logger *zap.Logger
	now    func() time.Time // For testing
}

// NewWriter creates a Writer rooted at dir. Lock files go under lockDir so
// the artifacts tree only holds artifacts.
func NewWriter(dir, lockDir string, lockTimeout time.Duration, logger *zap.Logger) *Writer {
	logger = logging.OrNop(logger)
	store := docstore.New(dir, lockTimeout, logger)
	store.SetLockDir(lockDir)
	return &Writer{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// SetClock replaces the time source.
func (w *Writer) SetClock(now func() time.Time) {
	w.now = now
}

// Root returns the artifacts directory.
func (w *Writer) Root() string {
	return w.store.Root()
}

// Path resolves a relative artifact path.
func (w *Writer) Path(rel string) string {
	return w.store.Path(rel)
}

// Plan lists the relative paths Apply will touch for rec, in write order.
func (w *Writer) Plan(rec *models.LearningRecord) []string {
	var files []string
	switch rec.Type {
	case models.TypeUserPreference:
		files = append(files, PreferencesFile)
	case models.TypeSkillGap:
		// Rules only.
	default:
		files = append(files, PatternPath(rec))
	}
	if _, _, ok := skillTrigger(rec); ok {
		files = append(files, SkillRulesFile)
	}
	return files
}

// Apply writes every artifact for rec and returns the relative paths written.
func (w *Writer) Apply(ctx context.Context, rec *models.LearningRecord) ([]string, error) {
	files := w.Plan(rec)
	for _, rel := range files {
		var err error
		switch rel {
		case PreferencesFile:
			err = w.appendPreference(ctx, rec)
		case SkillRulesFile:
			skill, keywords, _ := skillTrigger(rec)
			err = w.mergeRule(ctx, skill, keywords, rec.ID)
		default:
			err = w.writePattern(rec, rel)
		}
		if err != nil {
			return nil, fmt.Errorf("write %s: %w", rel, err)
		}
	}

	w.logger.Info("artifacts written",
		zap.String("learning_id", rec.ID),
		zap.Strings("files", files),
	)
	return files, nil
}

// UpdateRules adds keywords to a skill's trigger entry, creating it if needed.
func (w *Writer) UpdateRules(ctx context.Context, skill string, keywords []string) error {
	if strings.TrimSpace(skill) == "" {
		return errors.New("skill name is required")
	}
	if len(keywords) == 0 {
		return errors.New("at least one keyword is required")
	}
	return w.mergeRule(ctx, skill, keywords, "")
}

// Rules reads the current trigger-rules document.
func (w *Writer) Rules() (*SkillRules, error) {
	return docstore.Read[SkillRules](w.store, SkillRulesFile)
}

// skillTrigger extracts the skill and keywords a record contributes to the
// trigger rules. Skill gaps fall back to their pattern key.
func skillTrigger(rec *models.LearningRecord) (string, []string, bool) {
	skill := rec.ContextString("skill")
	keywords := rec.ContextStrings("keywords")
	if rec.Type == models.TypeSkillGap {
		if skill == "" {
			skill = Slug(rec.Key())
		}
		if len(keywords) == 0 {
			keywords = []string{rec.Key()}
		}
		return skill, keywords, true
	}
	return skill, keywords, skill != "" && len(keywords) > 0
}

func (w *Writer) writePattern(rec *models.LearningRecord, rel string) error {
	skill, keywords, _ := skillTrigger(rec)
	fm := patternFrontMatter{
		ID:         rec.ID,
		Type:       string(rec.Type),
		PatternKey: rec.Key(),
		Frequency:  rec.Frequency,
		Confidence: rec.Confidence,
		Scope:      string(rec.Scope),
		Skill:      skill,
		Keywords:   keywords,
		Created:    rec.CreatedAt.UTC().Format(time.RFC3339),
		Applied:    w.now().UTC().Format(time.RFC3339),
	}
	header, err := yaml.Marshal(fm)
	if err != nil {
		return fmt.Errorf("marshal front matter: %w", err)
	}

	var b bytes.Buffer
	b.WriteString("---\n")
	b.Write(header)
	b.WriteString("---\n\n")
	fmt.Fprintf(&b, "# %s\n\n", title(rec))
	b.WriteString(strings.TrimSpace(rec.Description))
	b.WriteString("\n")

	if example := rec.ContextString("example"); example != "" {
		b.WriteString("\n## Example\n\n```\n")
		b.WriteString(strings.TrimRight(example, "\n"))
		b.WriteString("\n```\n")
	}
	if files := rec.ContextStrings("files"); len(files) > 0 {
		b.WriteString("\n## Seen In\n\n")
		for _, f := range files {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}

	return docstore.WriteFileAtomic(w.Path(rel), b.Bytes(), 0644)
}

func (w *Writer) appendPreference(ctx context.Context, rec *models.LearningRecord) error {
	return w.store.WithLock(ctx, PreferencesFile, func() error {
		path := w.Path(PreferencesFile)
		data, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}

		marker := fmt.Sprintf("<!-- %s -->", rec.ID)
		if bytes.Contains(data, []byte(marker)) {
			return nil
		}
		if len(data) == 0 {
			data = []byte(preferencesHeader)
		} else if data[len(data)-1] != '\n' {
			data = append(data, '\n')
		}

		line := fmt.Sprintf("- %s (learned %s) %s\n",
			strings.TrimSpace(rec.Description),
			w.now().UTC().Format("2006-01-02"),
			marker,
		)
		return docstore.WriteFileAtomic(path, append(data, line...), 0644)
	})
}

func (w *Writer) mergeRule(ctx context.Context, skill string, keywords []string, learningID string) error {
	return docstore.Update(ctx, w.store, SkillRulesFile, func(doc *SkillRules) error {
		if doc.Version == 0 {
			doc.Version = 1
		}
		if doc.Skills == nil {
			doc.Skills = make(map[string]*SkillRule)
		}
		rule := doc.Skills[skill]
		if rule == nil {
			rule = &SkillRule{}
			doc.Skills[skill] = rule
		}
		rule.Keywords = mergeSorted(rule.Keywords, keywords)
		if learningID != "" {
			rule.Learnings = mergeSorted(rule.Learnings, []string{learningID})
		}
		rule.UpdatedAt = w.now().UTC()
		return nil
	})
}

func mergeSorted(existing, add []string) []string {
	seen := make(map[string]bool, len(existing)+len(add))
	var out []string
	for _, s := range append(append([]string{}, existing...), add...) {
		s = strings.TrimSpace(s)
		if s == "" || seen[strings.ToLower(s)] {
			continue
		}
		seen[strings.ToLower(s)] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func title(rec *models.LearningRecord) string {
	if t := rec.ContextString("title"); t != "" {
		return t
	}
	desc := strings.TrimSpace(rec.Description)
	if i := strings.IndexAny(desc, ".\n"); i > 0 {
		desc = desc[:i]
	}
	if r := []rune(desc); len(r) > 72 {
		desc = string(r[:72])
	}
	return desc
}
