// Package template loads reusable work templates from YAML and applies them
// to a project as a batch of dependent tasks.
package template

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Pattern matches template files below the loader's directory.
const Pattern = "**/*.{yaml,yml}"

var (
	ErrTemplateNotFound = errors.New("template not found")
	ErrInvalidTemplate  = errors.New("invalid template")
)

// Template is a named list of tasks with dependencies expressed by key.
type Template struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description,omitempty"`
	Tasks       []TemplateTask `yaml:"tasks"`
}

// TemplateTask describes one task of a template. OffsetDays and
// DurationDays are relative to the start date given at apply time.
type TemplateTask struct {
	Key            string   `yaml:"key"`
	Name           string   `yaml:"name"`
	Priority       string   `yaml:"priority,omitempty"`
	EstimatedHours float64  `yaml:"estimated_hours,omitempty"`
	OffsetDays     int      `yaml:"offset_days,omitempty"`
	DurationDays   int      `yaml:"duration_days,omitempty"`
	DependsOn      []string `yaml:"depends_on,omitempty"`
	ConditionalTag string   `yaml:"conditional_tag,omitempty"`
}

// Check validates the template's structure: a name, at least one task and
// unique non-empty keys. Dependency problems are reported at apply time.
func (t *Template) Check() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidTemplate)
	}
	if len(t.Tasks) == 0 {
		return fmt.Errorf("%w: %s has no tasks", ErrInvalidTemplate, t.Name)
	}
	seen := make(map[string]bool, len(t.Tasks))
	for i, tt := range t.Tasks {
		if tt.Key == "" {
			return fmt.Errorf("%w: %s task #%d has no key", ErrInvalidTemplate, t.Name, i+1)
		}
		if seen[tt.Key] {
			return fmt.Errorf("%w: %s has duplicate key %q", ErrInvalidTemplate, t.Name, tt.Key)
		}
		seen[tt.Key] = true
	}
	return nil
}

// Loader discovers and parses templates under a directory.
// It uses an afero.Fs so tests can run against an in-memory filesystem.
type Loader struct {
	fs      afero.Fs
	baseDir string
}

// NewLoader creates a Loader over fs rooted at baseDir.
func NewLoader(fs afero.Fs, baseDir string) *Loader {
	return &Loader{fs: fs, baseDir: baseDir}
}

// NewOsLoader creates a Loader using the real filesystem.
func NewOsLoader(baseDir string) *Loader {
	return NewLoader(afero.NewOsFs(), baseDir)
}

// List returns the names of every template file, sorted. A template's name
// is its path relative to the base directory without the extension. A
// missing directory yields an empty list.
func (l *Loader) List() ([]string, error) {
	files, err := l.files()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Load parses the template called name. When the file carries no name
// field, the file's name is used.
func (l *Loader) Load(name string) (*Template, error) {
	files, err := l.files()
	if err != nil {
		return nil, err
	}
	path, ok := files[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}

	tpl, err := l.parse(path)
	if err != nil {
		return nil, err
	}
	if tpl.Name == "" {
		tpl.Name = name
	}
	if err := tpl.Check(); err != nil {
		return nil, err
	}
	return tpl, nil
}

// files maps template names to their paths.
func (l *Loader) files() (map[string]string, error) {
	exists, err := afero.DirExists(l.fs, l.baseDir)
	if err != nil {
		return nil, fmt.Errorf("check templates directory: %w", err)
	}
	files := make(map[string]string)
	if !exists {
		return files, nil
	}

	err = afero.Walk(l.fs, l.baseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(l.baseDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		ok, err := doublestar.Match(Pattern, rel)
		if err != nil || !ok {
			return err
		}
		files[strings.TrimSuffix(rel, filepath.Ext(rel))] = path
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk templates directory: %w", err)
	}
	return files, nil
}

func (l *Loader) parse(path string) (*Template, error) {
	f, err := l.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open template: %w", err)
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read template: %w", err)
	}

	var tpl Template
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&tpl); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalidTemplate, path, err)
	}
	return &tpl, nil
}
