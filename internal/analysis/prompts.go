package analysis

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"sync"
	"text/template"

	"github.com/fsnotify/fsnotify"
	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"

	"github.com/finsight-ai/finsight/internal/core"
	"github.com/finsight-ai/finsight/internal/logging"
)

//go:embed prompts/*.md.tmpl
var promptsFS embed.FS

// conclusionTemplateName is reserved; it never appears as an actor role.
const conclusionTemplateName = "conclusion"

// RolePromptParams feeds an actor's role template.
type RolePromptParams struct {
	StockName string
	StockCode string
	FactSheet string
}

// ConclusionPromptParams feeds the synthesis template.
type ConclusionPromptParams struct {
	StockName    string
	StockCode    string
	AnalysisText string
}

// PromptStore maps actor tags to prompt templates. Built-in templates
// are embedded; an external roles file can override or extend them and
// is hot-reloaded on change.
type PromptStore struct {
	mu        sync.RWMutex
	templates map[string]*template.Template
	rolesFile string
	logger    *logging.Logger
}

// PromptStoreOption configures the store.
type PromptStoreOption func(*PromptStore)

// WithRolesFile sets an external YAML file of role templates that
// overrides the embedded defaults.
func WithRolesFile(path string) PromptStoreOption {
	return func(s *PromptStore) { s.rolesFile = path }
}

// NewPromptStore loads the embedded templates plus any external roles
// file.
func NewPromptStore(logger *logging.Logger, opts ...PromptStoreOption) (*PromptStore, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &PromptStore{
		templates: make(map[string]*template.Template),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.loadEmbedded(); err != nil {
		return nil, fmt.Errorf("loading embedded templates: %w", err)
	}
	if s.rolesFile != "" {
		if err := s.loadRolesFile(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *PromptStore) loadEmbedded() error {
	return fs.WalkDir(promptsFS, "prompts", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".md.tmpl") {
			return nil
		}

		content, err := promptsFS.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}

		name := strings.TrimPrefix(path, "prompts/")
		name = strings.TrimSuffix(name, ".md.tmpl")

		tmpl, err := template.New(name).Parse(string(content))
		if err != nil {
			return fmt.Errorf("parsing template %s: %w", name, err)
		}

		s.mu.Lock()
		s.templates[name] = tmpl
		s.mu.Unlock()
		return nil
	})
}

// rolesDoc is the on-disk shape of an external roles file.
type rolesDoc struct {
	Roles map[string]string `yaml:"roles"`
}

func (s *PromptStore) loadRolesFile() error {
	data, err := os.ReadFile(s.rolesFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading roles file: %w", err)
	}

	var doc rolesDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing roles file %s: %w", s.rolesFile, err)
	}

	parsed := make(map[string]*template.Template, len(doc.Roles))
	for name, text := range doc.Roles {
		tmpl, err := template.New(name).Parse(text)
		if err != nil {
			return fmt.Errorf("parsing role %q: %w", name, err)
		}
		parsed[name] = tmpl
	}

	s.mu.Lock()
	for name, tmpl := range parsed {
		s.templates[name] = tmpl
	}
	s.mu.Unlock()

	s.logger.Info("loaded role prompts", "file", s.rolesFile, "roles", len(parsed))
	return nil
}

// Watch reloads the external roles file whenever it changes, until the
// context is cancelled. No-op when no roles file is configured.
func (s *PromptStore) Watch(ctx context.Context) error {
	if s.rolesFile == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	if err := watcher.Add(s.rolesFile); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watching %s: %w", s.rolesFile, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					if err := s.loadRolesFile(); err != nil {
						s.logger.Warn("roles file reload failed", "error", err)
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("roles file watch error", "error", err)
			}
		}
	}()
	return nil
}

// Roles lists the actor tags with a template, sorted for stable output.
func (s *PromptStore) Roles() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	roles := make([]string, 0, len(s.templates))
	for name := range s.templates {
		if name == conclusionTemplateName {
			continue
		}
		roles = append(roles, name)
	}
	sort.Strings(roles)
	return roles
}

// Has reports whether a template exists for the given actor tag.
func (s *PromptStore) Has(actor string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.templates[actor]
	return ok && actor != conclusionTemplateName
}

// RenderRole renders an actor's prompt.
func (s *PromptStore) RenderRole(actor string, params RolePromptParams) (string, error) {
	if actor == conclusionTemplateName {
		return "", core.ErrInput(core.CodeUnknownActor, "conclusion is not an actor role")
	}
	return s.render(actor, params)
}

// RenderConclusion renders the synthesis prompt.
func (s *PromptStore) RenderConclusion(params ConclusionPromptParams) (string, error) {
	return s.render(conclusionTemplateName, params)
}

func (s *PromptStore) render(name string, data interface{}) (string, error) {
	s.mu.RLock()
	tmpl, ok := s.templates[name]
	s.mu.RUnlock()

	if !ok {
		return "", core.ErrInput(core.CodeUnknownActor, fmt.Sprintf("no prompt template for %q", name))
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("executing template %s: %w", name, err)
	}
	return buf.String(), nil
}

// SaveDefaults writes the embedded role templates to path as a YAML
// roles file, atomically, as a starting point for customization.
func (s *PromptStore) SaveDefaults(path string) error {
	doc := rolesDoc{Roles: make(map[string]string)}

	err := fs.WalkDir(promptsFS, "prompts", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(p, ".md.tmpl") {
			return err
		}
		name := strings.TrimSuffix(strings.TrimPrefix(p, "prompts/"), ".md.tmpl")
		if name == conclusionTemplateName {
			return nil
		}
		content, err := promptsFS.ReadFile(p)
		if err != nil {
			return err
		}
		doc.Roles[name] = string(content)
		return nil
	})
	if err != nil {
		return fmt.Errorf("collecting defaults: %w", err)
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding roles: %w", err)
	}
	return renameio.WriteFile(path, data, 0o644)
}
