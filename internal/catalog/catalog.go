// Package catalog loads, seeds and caches the achievement catalog.
package catalog

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"example.com/gamification/internal/domain"
)

//go:embed default_achievements.toml
var defaultCatalog string

var knownCategories = map[string]bool{
	domain.CategoryStreak:   true,
	domain.CategoryProgress: true,
	domain.CategoryWorkout:  true,
	domain.CategoryGoal:     true,
}

// Entry is one achievement as written in a catalog file.
type Entry struct {
	Name             string `toml:"name"`
	Description      string `toml:"description"`
	Icon             string `toml:"icon"`
	Category         string `toml:"category"`
	RequirementType  string `toml:"requirement_type"`
	RequirementValue int    `toml:"requirement_value"`
	Points           int    `toml:"points"`
}

type file struct {
	Achievements []Entry `toml:"achievement"`
}

// Writer persists catalog entries keyed by name.
type Writer interface {
	UpsertAchievements(ctx context.Context, entries []domain.Achievement) (int, error)
}

// Default returns the built-in catalog.
func Default() ([]domain.Achievement, error) {
	return Parse(defaultCatalog)
}

// Load reads a catalog file. An empty path selects the built-in catalog.
func Load(path string) ([]domain.Achievement, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return Parse(string(raw))
}

// Parse decodes and validates TOML catalog content.
func Parse(content string) ([]domain.Achievement, error) {
	var f file
	meta, err := toml.Decode(content, &f)
	if err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("decode catalog: unknown keys %v", undecoded)
	}

	var errs []error
	seen := make(map[string]bool, len(f.Achievements))
	out := make([]domain.Achievement, 0, len(f.Achievements))
	for i, e := range f.Achievements {
		if err := e.validate(); err != nil {
			errs = append(errs, fmt.Errorf("achievement %d (%q): %w", i, e.Name, err))
			continue
		}
		if seen[e.Name] {
			errs = append(errs, fmt.Errorf("achievement %d: duplicate name %q", i, e.Name))
			continue
		}
		seen[e.Name] = true
		out = append(out, e.toDomain())
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return out, nil
}

func (e Entry) validate() error {
	switch {
	case strings.TrimSpace(e.Name) == "":
		return errors.New("name is required")
	case !knownCategories[e.Category]:
		return fmt.Errorf("unknown category %q", e.Category)
	case !domain.RequirementType(e.RequirementType).Known():
		return fmt.Errorf("unknown requirement_type %q", e.RequirementType)
	case e.RequirementValue < 0:
		return errors.New("requirement_value must not be negative")
	case e.Points < 0:
		return errors.New("points must not be negative")
	}
	return nil
}

func (e Entry) toDomain() domain.Achievement {
	return domain.Achievement{
		Name:             e.Name,
		Description:      e.Description,
		Icon:             e.Icon,
		Category:         e.Category,
		RequirementType:  domain.RequirementType(e.RequirementType),
		RequirementValue: e.RequirementValue,
		Points:           e.Points,
	}
}

// Seed writes entries through w and returns how many were new.
func Seed(ctx context.Context, w Writer, entries []domain.Achievement) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	inserted, err := w.UpsertAchievements(ctx, entries)
	if err != nil {
		return 0, fmt.Errorf("seed catalog: %w", err)
	}
	return inserted, nil
}
