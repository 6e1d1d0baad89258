// Package prompt assembles the system prompt and the fixed templated
// messages the orchestrator injects (correction notes, max-steps warnings)
// from a set of named templates, per spec.md §4.L. Packed defaults are
// compiled into the binary via embed.FS; a user override directory under
// ${HOME}/.ggcode/prompts/ is watched with fsnotify so an edited template
// takes effect on the next turn without a restart — grounded on the
// teacher's general fsnotify-driven reload idiom (it watches config and
// skill directories the same way; see internal/templates/registry.go in
// the wider pack for the watch/debounce shape this borrows).
package prompt

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"text/template"
	"time"

	"github.com/fsnotify/fsnotify"
)

//go:embed templates/*.tmpl
var packedTemplates embed.FS

// Name identifies one of the composer's known templates.
type Name string

const (
	NameSystem       Name = "system"
	NameMaxSteps     Name = "max_steps_warning"
	NameCorrection   Name = "correction"
	NameTitle        Name = "title_subagent"
	NameSummary      Name = "summary_subagent"
	NameCompaction   Name = "compaction_subagent"
)

// Composer loads and renders named prompt templates, preferring a user
// override file over the packed default when present.
type Composer struct {
	overrideDir   string
	mu            sync.RWMutex
	cache         map[Name]*template.Template
	watcher       *fsnotify.Watcher
	watchCancel   func()
	watchDebounce time.Duration
}

// NewComposer builds a composer that checks overrideDir for a
// "<name>.tmpl" file before falling back to the packed default.
func NewComposer(overrideDir string) *Composer {
	return &Composer{
		overrideDir:   overrideDir,
		cache:         make(map[Name]*template.Template),
		watchDebounce: 250 * time.Millisecond,
	}
}

// Render executes the named template against data, returning its rendered
// text. Falls back silently to the packed default if an override fails to
// parse, so a broken user edit never takes down the agent loop.
func (c *Composer) Render(name Name, data interface{}) (string, error) {
	tmpl, err := c.load(name)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render template %q: %w", name, err)
	}
	return buf.String(), nil
}

func (c *Composer) load(name Name) (*template.Template, error) {
	c.mu.RLock()
	if t, ok := c.cache[name]; ok {
		c.mu.RUnlock()
		return t, nil
	}
	c.mu.RUnlock()

	t, err := c.parse(name)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[name] = t
	c.mu.Unlock()
	return t, nil
}

func (c *Composer) parse(name Name) (*template.Template, error) {
	if c.overrideDir != "" {
		overridePath := filepath.Join(c.overrideDir, string(name)+".tmpl")
		if data, err := os.ReadFile(overridePath); err == nil {
			if t, parseErr := template.New(string(name)).Parse(string(data)); parseErr == nil {
				return t, nil
			}
			// fall through to packed default on a bad override
		}
	}

	data, err := packedTemplates.ReadFile("templates/" + string(name) + ".tmpl")
	if err != nil {
		return nil, fmt.Errorf("no packed template %q: %w", name, err)
	}
	return template.New(string(name)).Parse(string(data))
}

// invalidate drops a cached template so the next Render reparses it —
// called when the override directory changes underneath the composer.
func (c *Composer) invalidate(name Name) {
	c.mu.Lock()
	delete(c.cache, name)
	c.mu.Unlock()
}

func (c *Composer) invalidateAll() {
	c.mu.Lock()
	c.cache = make(map[Name]*template.Template)
	c.mu.Unlock()
}

// Watch starts an fsnotify watch on the override directory so edits are
// picked up without a restart. A no-op if overrideDir is empty; otherwise
// the directory is created if it doesn't exist yet, then watched.
func (c *Composer) Watch() error {
	if c.overrideDir == "" {
		return nil
	}
	if err := os.MkdirAll(c.overrideDir, 0o755); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(c.overrideDir); err != nil {
		watcher.Close()
		return err
	}

	cancelCh := make(chan struct{})
	c.watcher = watcher
	c.watchCancel = func() { close(cancelCh) }

	go c.watchLoop(watcher, cancelCh)
	return nil
}

func (c *Composer) watchLoop(watcher *fsnotify.Watcher, cancelCh <-chan struct{}) {
	var mu sync.Mutex
	var timer *time.Timer

	schedule := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(c.watchDebounce, c.invalidateAll)
	}

	for {
		select {
		case <-cancelCh:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				schedule()
			}
		case _, ok := <-watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close stops the file watcher, if running.
func (c *Composer) Close() error {
	if c.watchCancel != nil {
		c.watchCancel()
	}
	if c.watcher != nil {
		return c.watcher.Close()
	}
	return nil
}
