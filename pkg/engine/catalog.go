package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/openfroyo/inspector/pkg/sections"
	"github.com/openfroyo/inspector/pkg/stores"
	"github.com/openfroyo/inspector/pkg/telemetry"
	"github.com/rs/zerolog"
)

var taskLine = regexp.MustCompile(`(?m)^\s*-\s+name:`)

// Files in the scripts directory that are never catalog entries.
var scanSkip = map[string]bool{
	"metadata.json":  true,
	"hosts":          true,
	"run_script.yml": true,
}

// UploadInput is a script upload.
type UploadInput struct {
	Name        string
	Description string
	Filename    string
	Content     []byte
}

// ScriptView is a catalog entry together with its sections.
type ScriptView struct {
	*stores.Script
	Sections []sections.Section `json:"sections"`
}

// ScriptCatalog stores uploaded scripts on disk and their metadata in the
// store. It implements ScriptSource.
type ScriptCatalog struct {
	store   stores.Store
	dir     string
	parser  *sections.Parser
	events  *telemetry.EventPublisher
	metrics *telemetry.Metrics
	logger  zerolog.Logger
}

// NewScriptCatalog creates a catalog rooted at dir, creating it if needed.
func NewScriptCatalog(store stores.Store, dir string, parser *sections.Parser, events *telemetry.EventPublisher, metrics *telemetry.Metrics, logger zerolog.Logger) (*ScriptCatalog, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create scripts directory: %w", err)
	}
	if parser == nil {
		parser = sections.MustNewParser(sections.DefaultConvention())
	}

	return &ScriptCatalog{
		store:   store,
		dir:     dir,
		parser:  parser,
		events:  events,
		metrics: metrics,
		logger:  logger.With().Str("component", "catalog").Logger(),
	}, nil
}

// Dir returns the scripts directory.
func (c *ScriptCatalog) Dir() string {
	return c.dir
}

// TypeForFilename maps an upload file name to a script type.
func TypeForFilename(name string) (stores.ScriptType, bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".sh":
		return stores.ScriptTypeShell, true
	case ".yml", ".yaml":
		return stores.ScriptTypePlaybook, true
	}
	return "", false
}

// Upload stores a new script. Shell scripts get their line endings
// normalized and are split into sections; playbooks get their tasks
// counted.
func (c *ScriptCatalog) Upload(ctx context.Context, in UploadInput, actor string) (*ScriptView, error) {
	filename := filepath.Base(strings.TrimSpace(in.Filename))
	if strings.TrimSpace(in.Name) == "" {
		return nil, NewValidationError("script name is required")
	}
	scriptType, ok := TypeForFilename(filename)
	if !ok {
		return nil, NewValidationError("only .sh, .yml and .yaml files can be uploaded").
			WithDetail("filename", filename)
	}

	id := uuid.New().String()
	path := filepath.Join(c.dir, id+"_"+filename)

	content := string(in.Content)
	if scriptType == stores.ScriptTypeShell {
		content = sections.NormalizeLineEndings(content)
	}

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return nil, fmt.Errorf("failed to save script: %w", err)
	}

	view, err := c.register(ctx, id, in.Name, in.Description, filename, path, scriptType, content)
	if err != nil {
		_ = os.Remove(path)
		return nil, err
	}

	_ = c.events.PublishResourceChange(telemetry.EventTypeScriptUploaded, telemetry.ResourceScript, id, actor,
		map[string]interface{}{"name": in.Name, "filename": filename, "type": string(scriptType)})
	c.refreshGauge(ctx)

	c.logger.Info().
		Str("script_id", id).
		Str("filename", filename).
		Str("type", string(scriptType)).
		Int("tasks", view.Tasks).
		Msg("Script uploaded")

	return view, nil
}

func (c *ScriptCatalog) register(ctx context.Context, id, name, description, filename, path string, scriptType stores.ScriptType, content string) (*ScriptView, error) {
	var secs []sections.Section
	tasks := 0
	if scriptType == stores.ScriptTypeShell {
		secs = c.parser.Parse(content)
		tasks = len(secs)
	} else {
		tasks = len(taskLine.FindAllStringIndex(content, -1))
	}

	encoded := "[]"
	if len(secs) > 0 {
		data, err := json.Marshal(secs)
		if err != nil {
			return nil, fmt.Errorf("failed to encode sections: %w", err)
		}
		encoded = string(data)
	}

	script := &stores.Script{
		ID:          id,
		Name:        name,
		Description: description,
		Filename:    filename,
		Path:        path,
		Type:        scriptType,
		Tasks:       tasks,
		Sections:    encoded,
		CreatedAt:   time.Now(),
	}
	if err := c.store.CreateScript(ctx, script); err != nil {
		return nil, fmt.Errorf("failed to register script: %w", err)
	}

	if secs == nil {
		secs = []sections.Section{}
	}
	return &ScriptView{Script: script, Sections: secs}, nil
}

// Scan registers files already present in the scripts directory that are
// not in the catalog yet. It returns the number of new entries.
func (c *ScriptCatalog) Scan(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read scripts directory: %w", err)
	}

	existing, err := c.store.ListScripts(ctx)
	if err != nil {
		return 0, err
	}
	known := make(map[string]bool, len(existing))
	for _, s := range existing {
		known[filepath.Base(s.Path)] = true
	}

	added := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || scanSkip[name] || known[name] {
			continue
		}
		scriptType, ok := TypeForFilename(name)
		if !ok {
			continue
		}

		path := filepath.Join(c.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			c.logger.Warn().Err(err).Str("file", name).Msg("Skipping unreadable script")
			continue
		}

		display := strings.TrimSuffix(name, filepath.Ext(name))
		if _, err := c.register(ctx, uuid.New().String(), display, "", name, path, scriptType, string(data)); err != nil {
			c.logger.Warn().Err(err).Str("file", name).Msg("Failed to register existing script")
			continue
		}
		added++
	}

	if added > 0 {
		c.logger.Info().Int("count", added).Str("dir", c.dir).Msg("Registered existing scripts")
	}
	c.refreshGauge(ctx)
	return added, nil
}

// Get returns a catalog entry with its sections.
func (c *ScriptCatalog) Get(ctx context.Context, id string) (*ScriptView, error) {
	script, err := c.store.GetScript(ctx, id)
	if errors.Is(err, stores.ErrNotFound) {
		return nil, NewNotFoundError("script", id)
	}
	if err != nil {
		return nil, err
	}
	return toView(script)
}

// List returns every catalog entry, newest first.
func (c *ScriptCatalog) List(ctx context.Context) ([]*ScriptView, error) {
	scripts, err := c.store.ListScripts(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]*ScriptView, 0, len(scripts))
	for _, s := range scripts {
		v, err := toView(s)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

// Delete removes a catalog entry and its file.
func (c *ScriptCatalog) Delete(ctx context.Context, id, actor string) error {
	script, err := c.store.GetScript(ctx, id)
	if errors.Is(err, stores.ErrNotFound) {
		return NewNotFoundError("script", id)
	}
	if err != nil {
		return err
	}

	if err := c.store.DeleteScript(ctx, id); err != nil {
		return err
	}
	if err := os.Remove(script.Path); err != nil && !os.IsNotExist(err) {
		c.logger.Warn().Err(err).Str("path", script.Path).Msg("Failed to remove script file")
	}

	_ = c.events.PublishResourceChange(telemetry.EventTypeScriptDeleted, telemetry.ResourceScript, id, actor, nil)
	c.refreshGauge(ctx)
	return nil
}

// Lookup implements ScriptSource.
func (c *ScriptCatalog) Lookup(ctx context.Context, id string) (*ScriptMeta, error) {
	script, err := c.store.GetScript(ctx, id)
	if errors.Is(err, stores.ErrNotFound) {
		return nil, NewNotFoundError("script", id)
	}
	if err != nil {
		return nil, err
	}

	return &ScriptMeta{
		ID:       script.ID,
		Name:     script.Name,
		Filename: script.Filename,
		Type:     ScriptType(script.Type),
	}, nil
}

// Content implements ScriptSource.
func (c *ScriptCatalog) Content(ctx context.Context, id string) (string, error) {
	script, err := c.store.GetScript(ctx, id)
	if errors.Is(err, stores.ErrNotFound) {
		return "", NewNotFoundError("script", id)
	}
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(script.Path)
	if err != nil {
		return "", fmt.Errorf("failed to read script %s: %w", id, err)
	}
	return string(data), nil
}

// Render returns the script a section selection would run, along with a
// download file name: <name>_sections.sh for a selection, <name>.sh
// otherwise. Playbooks are returned unchanged under their own file name.
func (c *ScriptCatalog) Render(ctx context.Context, id string, sectionIDs []string) (string, string, error) {
	script, err := c.Lookup(ctx, id)
	if err != nil {
		return "", "", err
	}
	content, err := c.Content(ctx, id)
	if err != nil {
		return "", "", err
	}

	if script.Type != ScriptTypeShell {
		return content, script.Filename, nil
	}

	selected := c.parser.Convention().WellFormed(sectionIDs)
	if len(selected) == 0 {
		return content, script.Name + ".sh", nil
	}
	return c.parser.Reconstruct(content, selected), script.Name + "_sections.sh", nil
}

// RecordRun stores the outcome of the latest execution of a script.
func (c *ScriptCatalog) RecordRun(ctx context.Context, id, status string, at time.Time) error {
	err := c.store.UpdateScriptRun(ctx, id, status, at)
	if errors.Is(err, stores.ErrNotFound) {
		return NewNotFoundError("script", id)
	}
	return err
}

// TrackRuns subscribes to finished executions and records their status on
// the script.
func (c *ScriptCatalog) TrackRuns(events *telemetry.EventPublisher) {
	if events == nil {
		return
	}
	events.Subscribe(func(event telemetry.Event) {
		scriptID, _ := event.Data["script_id"].(string)
		status, _ := event.Data["status"].(string)
		if scriptID == "" || status == "" {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.RecordRun(ctx, scriptID, status, event.Timestamp); err != nil {
			c.logger.Warn().Err(err).Str("script_id", scriptID).Msg("Failed to record last run")
		}
	}, telemetry.FilterByType(telemetry.EventTypeExecutionCompleted, telemetry.EventTypeExecutionFailed))
}

func (c *ScriptCatalog) refreshGauge(ctx context.Context) {
	if c.metrics == nil {
		return
	}
	if scripts, err := c.store.ListScripts(ctx); err == nil {
		c.metrics.SetCatalogScripts(len(scripts))
	}
}

func toView(script *stores.Script) (*ScriptView, error) {
	secs := []sections.Section{}
	if script.Sections != "" {
		if err := json.Unmarshal([]byte(script.Sections), &secs); err != nil {
			return nil, fmt.Errorf("failed to decode sections of %s: %w", script.ID, err)
		}
	}
	return &ScriptView{Script: script, Sections: secs}, nil
}
