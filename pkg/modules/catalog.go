package modules

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/unifyops/provisioner/pkg/telemetry"
)

// Module describes one Terraform module discovered under the root.
type Module struct {
	// Path is the module path relative to the root, as accepted by the
	// environment service.
	Path string `json:"path"`

	// Name is the module's directory name.
	Name string `json:"name"`

	// Provider is the first path segment (aws, gcp, ...).
	Provider string `json:"provider,omitempty"`

	// Category is the intermediate path, when the module is nested
	// deeper than provider/name.
	Category string `json:"category,omitempty"`

	// Description comes from the leading comment block of main.tf.
	Description string `json:"description,omitempty"`

	Variables []Variable `json:"variables,omitempty"`
	Outputs   []Output   `json:"outputs,omitempty"`

	// Tags come from a "Tags:" line in the module's README.
	Tags []string `json:"tags,omitempty"`
}

// Variable is one declared input of a module.
type Variable struct {
	Name        string `json:"name"`
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
	Default     string `json:"default,omitempty"`

	// Required is true when the declaration carries no default.
	Required bool `json:"required"`
}

// Output is one declared output of a module.
type Output struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

var (
	variableBlockRe = regexp.MustCompile(`(?ms)^variable\s+"([^"]+)"\s*\{(.*?)^\}`)
	outputBlockRe   = regexp.MustCompile(`(?ms)^output\s+"([^"]+)"\s*\{(.*?)^\}`)
	typeAttrRe      = regexp.MustCompile(`(?m)^\s*type\s*=\s*(.+?)\s*$`)
	descAttrRe      = regexp.MustCompile(`(?m)^\s*description\s*=\s*"((?:[^"\\]|\\.)*)"`)
	defaultAttrRe   = regexp.MustCompile(`(?m)^\s*default\s*=\s*(.+?)\s*$`)
	tagsLineRe      = regexp.MustCompile(`(?mi)^Tags:\s*(.+)$`)
)

// Catalog scans a Terraform root for modules and caches the result.
// A directory is a module when it contains main.tf. The cache is
// invalidated by an optional fsnotify watcher, so repeated List calls
// stay cheap between changes.
type Catalog struct {
	rootDir string
	logger  *telemetry.Logger

	mu      sync.RWMutex
	modules []*Module
	loaded  bool

	watcher *fsnotify.Watcher
}

// NewCatalog creates a catalog over rootDir.
func NewCatalog(rootDir string, logger *telemetry.Logger) *Catalog {
	return &Catalog{
		rootDir: rootDir,
		logger:  logger.NewComponentLogger("modules.catalog"),
	}
}

// List returns all discovered modules, scanning on first use.
func (c *Catalog) List(ctx context.Context) ([]*Module, error) {
	c.mu.RLock()
	if c.loaded {
		modules := c.modules
		c.mu.RUnlock()
		return modules, nil
	}
	c.mu.RUnlock()

	return c.Refresh(ctx)
}

// Get returns the module with the given relative path.
func (c *Catalog) Get(ctx context.Context, path string) (*Module, error) {
	modules, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, m := range modules {
		if m.Path == path {
			return m, nil
		}
	}
	return nil, fmt.Errorf("module %q not found under %s", path, c.rootDir)
}

// Refresh rescans the root and replaces the cache.
func (c *Catalog) Refresh(ctx context.Context) ([]*Module, error) {
	var modules []*Module

	err := filepath.WalkDir(c.rootDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !d.IsDir() {
			return nil
		}
		// Skip terraform's own working data.
		if d.Name() == ".terraform" {
			return filepath.SkipDir
		}

		if _, err := os.Stat(filepath.Join(path, "main.tf")); err != nil {
			return nil
		}

		module, err := c.loadModule(path)
		if err != nil {
			c.logger.WithError(err).Warnf("skipping unreadable module at %s", path)
			return nil
		}
		modules = append(modules, module)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan terraform root: %w", err)
	}

	sort.Slice(modules, func(i, j int) bool { return modules[i].Path < modules[j].Path })

	c.mu.Lock()
	c.modules = modules
	c.loaded = true
	c.mu.Unlock()

	c.logger.WithField("count", len(modules)).Info("module catalog refreshed")
	return modules, nil
}

// Invalidate drops the cache; the next List rescans.
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	c.loaded = false
	c.mu.Unlock()
}

// loadModule extracts metadata for a single module directory.
func (c *Catalog) loadModule(dir string) (*Module, error) {
	rel, err := filepath.Rel(c.rootDir, dir)
	if err != nil {
		return nil, err
	}
	rel = filepath.ToSlash(rel)

	data, err := os.ReadFile(filepath.Join(dir, "main.tf"))
	if err != nil {
		return nil, err
	}
	contents := string(data)

	// variables.tf and outputs.tf commonly hold the declarations.
	for _, extra := range []string{"variables.tf", "outputs.tf"} {
		if extraData, err := os.ReadFile(filepath.Join(dir, extra)); err == nil {
			contents += "\n" + string(extraData)
		}
	}

	module := &Module{
		Path:        rel,
		Name:        filepath.Base(dir),
		Description: extractLeadingComment(string(data)),
		Variables:   extractVariables(contents),
		Outputs:     extractOutputs(contents),
		Tags:        readTags(dir),
	}

	parts := strings.Split(rel, "/")
	if len(parts) > 1 {
		module.Provider = parts[0]
	}
	if len(parts) > 2 {
		module.Category = strings.Join(parts[1:len(parts)-1], "/")
	}

	return module, nil
}

// extractLeadingComment collects the comment block at the top of a file.
func extractLeadingComment(contents string) string {
	var b strings.Builder
	for _, line := range strings.Split(contents, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			comment := strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
			if comment != "" {
				if b.Len() > 0 {
					b.WriteString(" ")
				}
				b.WriteString(comment)
			}
			continue
		}
		if trimmed != "" {
			break
		}
	}
	return b.String()
}

func extractVariables(contents string) []Variable {
	var variables []Variable
	for _, match := range variableBlockRe.FindAllStringSubmatch(contents, -1) {
		body := match[2]
		v := Variable{Name: match[1], Required: true}
		if m := typeAttrRe.FindStringSubmatch(body); m != nil {
			v.Type = m[1]
		}
		if m := descAttrRe.FindStringSubmatch(body); m != nil {
			v.Description = m[1]
		}
		if m := defaultAttrRe.FindStringSubmatch(body); m != nil {
			v.Default = m[1]
			v.Required = false
		}
		variables = append(variables, v)
	}
	return variables
}

func extractOutputs(contents string) []Output {
	var outputs []Output
	for _, match := range outputBlockRe.FindAllStringSubmatch(contents, -1) {
		o := Output{Name: match[1]}
		if m := descAttrRe.FindStringSubmatch(match[2]); m != nil {
			o.Description = m[1]
		}
		outputs = append(outputs, o)
	}
	return outputs
}

// readTags parses a "Tags: a, b, c" line from the module's README.
func readTags(dir string) []string {
	for _, name := range []string{"README.md", "README"} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		m := tagsLineRe.FindStringSubmatch(string(data))
		if m == nil {
			return nil
		}
		var tags []string
		for _, tag := range strings.Split(m[1], ",") {
			if trimmed := strings.TrimSpace(tag); trimmed != "" {
				tags = append(tags, trimmed)
			}
		}
		return tags
	}
	return nil
}

// Watch invalidates the cache when files under the root change. Events
// are debounced so a burst of writes triggers a single rescan on the
// next List.
func (c *Catalog) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	c.watcher = watcher

	err = filepath.WalkDir(c.rootDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".terraform" {
				return filepath.SkipDir
			}
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch terraform root: %w", err)
	}

	go c.processEvents(ctx)

	c.logger.WithField("root", c.rootDir).Info("watching terraform root for changes")
	return nil
}

func (c *Catalog) processEvents(ctx context.Context) {
	var invalidateTimer *time.Timer
	const debounce = 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			_ = c.watcher.Close()
			return

		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !relevantChange(event.Name) {
				continue
			}
			c.logger.Debugf("module file changed: %s", event.Name)

			// New directories must be added to the watcher themselves.
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = c.watcher.Add(event.Name)
				}
			}

			if invalidateTimer != nil {
				invalidateTimer.Stop()
			}
			invalidateTimer = time.AfterFunc(debounce, c.Invalidate)

		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.logger.WithError(err).Error("watcher error")
		}
	}
}

// relevantChange reports whether a changed path can affect catalog
// contents.
func relevantChange(path string) bool {
	if strings.Contains(path, string(filepath.Separator)+".terraform"+string(filepath.Separator)) {
		return false
	}
	base := filepath.Base(path)
	return strings.HasSuffix(base, ".tf") || base == "README.md" || base == "README" || !strings.Contains(base, ".")
}

// Close stops the watcher, if one was started.
func (c *Catalog) Close() error {
	if c.watcher != nil {
		return c.watcher.Close()
	}
	return nil
}
