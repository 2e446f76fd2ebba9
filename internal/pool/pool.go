// Package pool holds the quiz catalogs. Catalogs are embedded YAML files, loaded
// and validated once at startup; the registry is read-only afterwards.
package pool

import (
	"embed"
	stderrors "errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/victornm/discernment/internal/domain"
	"github.com/victornm/discernment/internal/errors"
)

const DefaultTier = "basic"

//go:embed catalogs/*.yaml
var catalogFS embed.FS

type yamlCatalog struct {
	Version int        `yaml:"version"`
	Tier    string     `yaml:"tier"`
	Title   string     `yaml:"title"`
	Premium bool       `yaml:"premium"`
	Tasks   []yamlTask `yaml:"tasks"`
}

type yamlTask struct {
	ID          string   `yaml:"id"`
	Text        string   `yaml:"text"`
	Options     []string `yaml:"options"`
	Answer      string   `yaml:"answer"`
	XP          int      `yaml:"xp"`
	Badge       string   `yaml:"badge"`
	Explanation string   `yaml:"explanation"`
}

// BotPolicy restricts the tiers one bot instance exposes.
type BotPolicy struct {
	Tiers   []string
	Default string
}

// Policy maps a bot name to its BotPolicy. Bots without an entry expose every tier.
type Policy map[string]BotPolicy

type Registry struct {
	pools  map[string]*domain.Pool
	tiers  []string
	policy Policy
}

// Load builds a registry from the embedded catalogs.
func Load(policy Policy) (*Registry, error) {
	sub, err := fs.Sub(catalogFS, "catalogs")
	if err != nil {
		return nil, err
	}
	return LoadFS(sub, policy)
}

// LoadFS builds a registry from every *.yaml file at the root of fsys.
func LoadFS(fsys fs.FS, policy Policy) (*Registry, error) {
	files, err := fs.Glob(fsys, "*.yaml")
	if err != nil {
		return nil, fmt.Errorf("pool: list catalogs: %w", err)
	}
	if len(files) == 0 {
		return nil, stderrors.New("pool: no catalogs found")
	}

	r := &Registry{
		pools:  make(map[string]*domain.Pool, len(files)),
		policy: policy,
	}

	for _, name := range files {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("pool: read %s: %w", name, err)
		}

		p, err := parse(data)
		if err != nil {
			return nil, fmt.Errorf("pool: %s: %w", path.Base(name), err)
		}

		if _, exists := r.pools[p.Tier]; exists {
			return nil, fmt.Errorf("pool: %s: duplicate tier %q", path.Base(name), p.Tier)
		}
		r.pools[p.Tier] = p
		r.tiers = append(r.tiers, p.Tier)
	}
	sort.Strings(r.tiers)

	if err := r.validatePolicy(); err != nil {
		return nil, err
	}

	return r, nil
}

func parse(data []byte) (*domain.Pool, error) {
	var c yamlCatalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}

	tier := domain.Normalize(c.Tier)
	if tier == "" {
		return nil, stderrors.New("tier is required")
	}
	if len(c.Tasks) == 0 {
		return nil, fmt.Errorf("tier %q has no tasks", tier)
	}

	p := &domain.Pool{
		Tier:    tier,
		Title:   c.Title,
		Version: c.Version,
		Premium: c.Premium,
		Tasks:   make([]domain.Task, 0, len(c.Tasks)),
	}

	seen := make(map[string]bool, len(c.Tasks))
	for i, t := range c.Tasks {
		id := strings.TrimSpace(t.ID)
		switch {
		case id == "":
			return nil, fmt.Errorf("task %d: id is required", i)
		case seen[id]:
			return nil, fmt.Errorf("task %s: duplicate id", id)
		case len(t.Options) < 2:
			return nil, fmt.Errorf("task %s: need at least 2 options", id)
		case t.XP < 0:
			return nil, fmt.Errorf("task %s: negative xp", id)
		}
		seen[id] = true

		task := domain.Task{
			ID:          id,
			Text:        t.Text,
			Options:     t.Options,
			Answer:      t.Answer,
			XP:          t.XP,
			Badge:       strings.TrimSpace(t.Badge),
			Explanation: t.Explanation,
		}
		if _, ok := task.Resolve(t.Answer); !ok {
			return nil, fmt.Errorf("task %s: answer %q is not one of the options", id, t.Answer)
		}

		p.Tasks = append(p.Tasks, task)
	}

	return p, nil
}

func (r *Registry) validatePolicy() error {
	for bot, bp := range r.policy {
		for _, tier := range bp.Tiers {
			if _, ok := r.pools[tier]; !ok {
				return fmt.Errorf("pool: bot %q: unknown tier %q", bot, tier)
			}
		}

		if bp.Default == "" {
			continue
		}
		if !slices.Contains(r.Tiers(bot), bp.Default) {
			return fmt.Errorf("pool: bot %q: default tier %q is not exposed", bot, bp.Default)
		}
	}
	return nil
}

// Pool resolves a tier for a bot. It fails with UnknownTier when the tier does
// not exist or the bot's policy does not expose it.
func (r *Registry) Pool(bot, tier string) (*domain.Pool, error) {
	tier = domain.Normalize(tier)
	if tier == "" {
		tier = r.Default(bot)
	}

	if !slices.Contains(r.Tiers(bot), tier) {
		return nil, errors.UnknownTier(tier)
	}

	return r.pools[tier], nil
}

// Tiers lists the tiers a bot exposes, sorted.
func (r *Registry) Tiers(bot string) []string {
	bp, ok := r.policy[bot]
	if !ok || len(bp.Tiers) == 0 {
		return slices.Clone(r.tiers)
	}

	tiers := slices.Clone(bp.Tiers)
	sort.Strings(tiers)
	return tiers
}

// Default returns the tier a bot starts with when none is requested.
func (r *Registry) Default(bot string) string {
	if bp, ok := r.policy[bot]; ok && bp.Default != "" {
		return bp.Default
	}

	tiers := r.Tiers(bot)
	if slices.Contains(tiers, DefaultTier) {
		return DefaultTier
	}
	return tiers[0]
}
