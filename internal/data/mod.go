package data

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

// ManifestFile is the file name every mod directory must contain.
const ManifestFile = "mod.yaml"

const manifestSchema = `{
  "type": "object",
  "required": ["name"],
  "additionalProperties": false,
  "properties": {
    "name":        {"type": "string", "pattern": "^[A-Za-z0-9_.-]+$"},
    "version":     {"type": "string"},
    "description": {"type": "string"},
    "scripts": {
      "type": "array",
      "items": {"type": "string", "pattern": "\\.lua$"}
    },
    "events": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name"],
        "additionalProperties": false,
        "properties": {
          "name":        {"type": "string", "minLength": 1},
          "description": {"type": "string"},
          "params":      {"type": "array", "items": {"type": "string"}}
        }
      }
    }
  }
}`

var compiledManifestSchema = mustCompileSchema(manifestSchema)

// EventSpec is an event declared in a mod manifest.
type EventSpec struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Params      []string `yaml:"params"`
}

// ModManifest describes one mod: its identity, the Lua scripts to run and
// the events it documents.
type ModManifest struct {
	Name        string      `yaml:"name"`
	Version     string      `yaml:"version"`
	Description string      `yaml:"description"`
	Scripts     []string    `yaml:"scripts"`
	Events      []EventSpec `yaml:"events"`

	Dir string `yaml:"-"` // directory the manifest was loaded from
}

// ScriptPaths returns the mod's scripts as paths under its directory.
func (m *ModManifest) ScriptPaths() []string {
	out := make([]string, len(m.Scripts))
	for i, s := range m.Scripts {
		out[i] = filepath.Join(m.Dir, s)
	}
	return out
}

// ModTable holds every mod found under the mods directory, in name order.
type ModTable struct {
	mods   []*ModManifest
	byName map[string]*ModManifest
}

// LoadModTable loads <dir>/*/mod.yaml. Subdirectories without a manifest are
// skipped. A missing dir yields an empty table.
func LoadModTable(dir string) (*ModTable, error) {
	t := &ModTable{byName: make(map[string]*ModManifest)}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return t, nil
		}
		return nil, fmt.Errorf("read mods dir: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name(), ManifestFile)
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		m, err := LoadManifest(path)
		if err != nil {
			return nil, err
		}
		if prev, dup := t.byName[m.Name]; dup {
			return nil, fmt.Errorf("mod %s declared twice: %s and %s", m.Name, prev.Dir, m.Dir)
		}
		t.byName[m.Name] = m
		t.mods = append(t.mods, m)
	}
	sort.Slice(t.mods, func(i, j int) bool { return t.mods[i].Name < t.mods[j].Name })
	return t, nil
}

// LoadManifest reads and validates a single mod.yaml.
func LoadManifest(path string) (*ModManifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mod manifest: %w", err)
	}

	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse mod manifest %s: %w", path, err)
	}
	if err := compiledManifestSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("invalid mod manifest %s: %w", path, err)
	}

	m := &ModManifest{}
	if err := yaml.Unmarshal(raw, m); err != nil {
		return nil, fmt.Errorf("parse mod manifest %s: %w", path, err)
	}
	m.Dir = filepath.Dir(path)
	if len(m.Scripts) == 0 {
		m.Scripts = []string{"main.lua"}
	}
	for _, s := range m.Scripts {
		if filepath.IsAbs(s) || strings.HasPrefix(filepath.Clean(s), "..") {
			return nil, fmt.Errorf("mod %s: script %s must stay inside the mod directory", m.Name, s)
		}
		if _, err := os.Stat(filepath.Join(m.Dir, s)); err != nil {
			return nil, fmt.Errorf("mod %s: script %s: %w", m.Name, s, err)
		}
	}
	return m, nil
}

// Get returns the mod with the given name, or nil if none.
func (t *ModTable) Get(name string) *ModManifest {
	return t.byName[name]
}

// All returns every mod in name order.
func (t *ModTable) All() []*ModManifest {
	return t.mods
}

// Count returns the total number of mods loaded.
func (t *ModTable) Count() int {
	return len(t.mods)
}

func mustCompileSchema(src string) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
	if err != nil {
		panic(fmt.Sprintf("parse manifest schema: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("mod.schema.json", doc); err != nil {
		panic(fmt.Sprintf("add manifest schema: %v", err))
	}
	s, err := c.Compile("mod.schema.json")
	if err != nil {
		panic(fmt.Sprintf("compile manifest schema: %v", err))
	}
	return s
}
