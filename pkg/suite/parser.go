// Package suite loads YAML suite files and turns them into executor tasks.
package suite

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/zylix-test/pkg/core"
)

// ParseError represents a parsing error with location info.
type ParseError struct {
	Path    string
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Duration reads Go duration strings ("30s", "2m") or bare seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	if v, err := time.ParseDuration(s); err == nil {
		*d = Duration(v)
		return nil
	}
	var secs float64
	if err := node.Decode(&secs); err != nil {
		return fmt.Errorf("invalid duration %q", s)
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}

// Load reads one suite file and any scriptFile it references.
func Load(fs afero.Fs, path string) (*Suite, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read suite: %w", err)
	}
	s, err := Parse(data, path)
	if err != nil {
		return nil, err
	}
	if err := s.loadScripts(fs); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadPath loads a suite file, or every *.yaml/*.yml suite under a
// directory in lexical order.
func LoadPath(fs afero.Fs, path string) ([]*Suite, error) {
	info, err := fs.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if !info.IsDir() {
		s, err := Load(fs, path)
		if err != nil {
			return nil, err
		}
		return []*Suite{s}, nil
	}

	var files []string
	err = afero.Walk(fs, path, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(p))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	suites := make([]*Suite, 0, len(files))
	for _, f := range files {
		s, err := Load(fs, f)
		if err != nil {
			return nil, err
		}
		suites = append(suites, s)
	}
	if len(suites) == 0 {
		return nil, fmt.Errorf("no suite files in %s", path)
	}
	return suites, nil
}

// Parse parses suite YAML. Script files are not read; see Load.
func Parse(data []byte, sourcePath string) (*Suite, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &ParseError{Path: sourcePath, Message: fmt.Sprintf("invalid YAML: %v", err)}
	}
	if len(doc.Content) == 0 {
		return nil, &ParseError{Path: sourcePath, Line: 1, Message: "empty suite file"}
	}

	s := &Suite{SourcePath: sourcePath}
	if err := doc.Content[0].Decode(s); err != nil {
		return nil, &ParseError{Path: sourcePath, Message: fmt.Sprintf("invalid suite: %v", err)}
	}
	if s.Name == "" {
		s.Name = strings.TrimSuffix(filepath.Base(sourcePath), filepath.Ext(sourcePath))
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Suite) validate() error {
	fail := func(line int, format string, args ...interface{}) error {
		return &ParseError{Path: s.SourcePath, Line: line, Message: fmt.Sprintf(format, args...)}
	}

	if s.Platform != "" {
		p, err := core.ParsePlatform(s.Platform)
		if err != nil {
			return fail(0, "%v", err)
		}
		s.Platform = string(p)
	}
	if len(s.Tasks) == 0 {
		return fail(0, "suite %q has no tasks", s.Name)
	}

	seen := make(map[string]int)
	for i := range s.Tasks {
		t := &s.Tasks[i]
		if t.Name == "" {
			return fail(t.line, "task %d has no name", i+1)
		}
		if prev, dup := seen[t.Name]; dup {
			return fail(t.line, "task %q already defined on line %d", t.Name, prev)
		}
		seen[t.Name] = t.line
		if (t.Script == "") == (t.ScriptFile == "") {
			return fail(t.line, "task %q needs exactly one of script or scriptFile", t.Name)
		}
		if t.Retries < 0 {
			return fail(t.line, "task %q has negative retries", t.Name)
		}
		if t.Timeout < 0 {
			return fail(t.line, "task %q has negative timeout", t.Name)
		}
	}
	return nil
}

// loadScripts reads scriptFile bodies relative to the suite file.
func (s *Suite) loadScripts(fs afero.Fs) error {
	dir := filepath.Dir(s.SourcePath)
	for i := range s.Tasks {
		t := &s.Tasks[i]
		if t.ScriptFile == "" {
			continue
		}
		p := t.ScriptFile
		if !filepath.IsAbs(p) {
			p = filepath.Join(dir, p)
		}
		data, err := afero.ReadFile(fs, p)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return &ParseError{Path: s.SourcePath, Line: t.line, Message: fmt.Sprintf("scriptFile %s not found", t.ScriptFile)}
			}
			return fmt.Errorf("failed to read %s: %w", p, err)
		}
		t.Script = string(data)
		t.scriptName = p
	}
	return nil
}
