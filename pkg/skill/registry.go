package skill

import (
	"embed"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// VerifyAnalysis is the skill dispatched to verifier backends.
const VerifyAnalysis = "verify-analysis"

//go:embed library/*.yaml
var bundled embed.FS

// UnknownSkillError reports a lookup of an unregistered skill id.
type UnknownSkillError struct {
	ID    string
	Valid []string
}

func (e *UnknownSkillError) Error() string {
	return fmt.Sprintf("unknown skill %q (valid: %s)", e.ID, strings.Join(e.Valid, ", "))
}

// Registry is a read-only skill lookup table, fixed at construction.
type Registry struct {
	skills map[string]Skill
	ids    []string
}

// NewRegistry validates skills and indexes them by id.
func NewRegistry(skills ...Skill) (*Registry, error) {
	r := &Registry{skills: make(map[string]Skill, len(skills))}
	for _, s := range skills {
		if err := s.validate(); err != nil {
			return nil, err
		}
		if _, dup := r.skills[s.ID]; dup {
			return nil, fmt.Errorf("skill %s registered twice", s.ID)
		}
		r.skills[s.ID] = s
		r.ids = append(r.ids, s.ID)
	}
	sort.Strings(r.ids)
	return r, nil
}

// Load builds a registry from the bundled library plus any extra skill files.
func Load(extraFiles ...string) (*Registry, error) {
	skills, err := Bundled()
	if err != nil {
		return nil, err
	}
	for _, file := range extraFiles {
		if file == "" {
			continue
		}
		extra, err := LoadFile(file)
		if err != nil {
			return nil, err
		}
		skills = append(skills, extra...)
	}
	return NewRegistry(skills...)
}

// Bundled returns the skills embedded in the binary.
func Bundled() ([]Skill, error) {
	entries, err := bundled.ReadDir("library")
	if err != nil {
		return nil, fmt.Errorf("failed to read bundled skills: %w", err)
	}
	var skills []Skill
	for _, entry := range entries {
		data, err := bundled.ReadFile(path.Join("library", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read bundled skill %s: %w", entry.Name(), err)
		}
		var s Skill
		if err := yaml.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("failed to parse bundled skill %s: %w", entry.Name(), err)
		}
		skills = append(skills, s)
	}
	return skills, nil
}

// LoadFile reads a YAML file holding a list of skills under `skills:`.
func LoadFile(file string) ([]Skill, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Skills []Skill `yaml:"skills"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse skills file %s: %w", file, err)
	}
	return doc.Skills, nil
}

// Get returns the skill registered under id.
func (r *Registry) Get(id string) (Skill, error) {
	s, ok := r.skills[id]
	if !ok {
		return Skill{}, &UnknownSkillError{ID: id, Valid: r.IDs()}
	}
	return s, nil
}

// IDs returns the registered skill ids, sorted.
func (r *Registry) IDs() []string {
	return append([]string(nil), r.ids...)
}
