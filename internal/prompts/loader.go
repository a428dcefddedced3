package prompts

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"text/template"
)

// Loader manages prompt templates with override support.
type Loader struct {
	overrideDirs []string // Directories to check for overrides (in priority order)
	cache        map[string]*template.Template
	mu           sync.RWMutex
}

// NewLoader creates a loader with the given override directories.
// Directories are checked in order; first match wins.
func NewLoader(overrideDirs ...string) *Loader {
	return &Loader{
		overrideDirs: overrideDirs,
		cache:        make(map[string]*template.Template),
	}
}

// DefaultLoader creates a loader that checks the data dir's prompts/
// directory before falling back to the embedded templates.
func DefaultLoader(dataDir string) *Loader {
	var dirs []string
	if dataDir != "" {
		dirs = append(dirs, filepath.Join(dataDir, "prompts"))
	}
	return NewLoader(dirs...)
}

// loadContent loads raw content from override dirs or embedded FS.
func (l *Loader) loadContent(name string) ([]byte, error) {
	for _, dir := range l.overrideDirs {
		fullPath := filepath.Join(dir, name)
		if data, err := os.ReadFile(fullPath); err == nil {
			return data, nil
		}
	}

	return fs.ReadFile(embeddedFS, "templates/"+name)
}

// LoadTemplate loads and parses a template by name (e.g., "codegen.md")
func (l *Loader) LoadTemplate(name string) (*template.Template, error) {
	l.mu.RLock()
	if tmpl, ok := l.cache[name]; ok {
		l.mu.RUnlock()
		return tmpl, nil
	}
	l.mu.RUnlock()

	content, err := l.loadContent(name)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}

	tmpl, err := template.New(name).Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("compile template %s: %w", name, err)
	}

	l.mu.Lock()
	l.cache[name] = tmpl
	l.mu.Unlock()

	return tmpl, nil
}

// TicketData holds template variables for pipeline prompts. Labels is the
// already-normalized, comma-joined label list.
type TicketData struct {
	Repo   string
	Number int
	Title  string
	Body   string
	Labels string
}

// Execute loads and executes a template with the given data
func (l *Loader) Execute(name string, data TicketData) (string, error) {
	tmpl, err := l.LoadTemplate(name)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute %s: %w", name, err)
	}

	return buf.String(), nil
}

// ClearCache clears the template cache (useful for tests)
func (l *Loader) ClearCache() {
	l.mu.Lock()
	l.cache = make(map[string]*template.Template)
	l.mu.Unlock()
}
