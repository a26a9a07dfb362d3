package playbook

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/openfroyo/inspector/pkg/config"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// RuleLoader loads rule set extensions from files and watches them for
// changes.
type RuleLoader struct {
	logger   zerolog.Logger
	schemas  *config.SchemaRegistry
	cache    map[string]RuleSet
	mu       sync.RWMutex
	watcher  *fsnotify.Watcher
	debounce time.Duration
}

// NewRuleLoader creates a rule loader that validates files against the
// built-in ruleset schema.
func NewRuleLoader(logger zerolog.Logger) *RuleLoader {
	return &RuleLoader{
		logger:   logger.With().Str("component", "rule-loader").Logger(),
		schemas:  config.DefaultRegistry(),
		cache:    make(map[string]RuleSet),
		debounce: 500 * time.Millisecond,
	}
}

// Load builds a rule set from DefaultRuleSet extended by every rule file
// under paths, in path order. Directories are walked recursively.
func (l *RuleLoader) Load(ctx context.Context, paths []string) (RuleSet, error) {
	rs := DefaultRuleSet()
	files := 0

	for _, path := range paths {
		exts, err := l.loadFromPath(ctx, path)
		if err != nil {
			return RuleSet{}, fmt.Errorf("failed to load rules from %s: %w", path, err)
		}
		for _, ext := range exts {
			rs = rs.Extend(ext)
		}
		files += len(exts)
	}

	if _, err := compileRules(rs); err != nil {
		return RuleSet{}, err
	}

	l.logger.Info().
		Int("files", files).
		Int("sources", len(paths)).
		Int("modules", len(rs.DangerousModules)).
		Msg("Rule set loaded")

	return rs, nil
}

func (l *RuleLoader) loadFromPath(ctx context.Context, path string) ([]RuleSet, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}

	if !info.IsDir() {
		rs, err := l.loadFromFile(ctx, path)
		if err != nil {
			return nil, err
		}
		return []RuleSet{rs}, nil
	}

	var out []RuleSet
	err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isRuleFile(p) {
			return nil
		}

		rs, err := l.loadFromFile(ctx, p)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", p).Msg("Skipping invalid rule file")
			return nil
		}
		out = append(out, rs)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}
	return out, nil
}

func (l *RuleLoader) loadFromFile(ctx context.Context, path string) (RuleSet, error) {
	l.mu.RLock()
	if cached, ok := l.cache[path]; ok {
		l.mu.RUnlock()
		return cached, nil
	}
	l.mu.RUnlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return RuleSet{}, fmt.Errorf("failed to read file: %w", err)
	}

	var rs RuleSet
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &rs)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &rs)
	default:
		return RuleSet{}, fmt.Errorf("unsupported rule file type: %s", path)
	}
	if err != nil {
		return RuleSet{}, fmt.Errorf("failed to parse rule file: %w", err)
	}

	if err := l.schemas.ValidateAgainstSchema(ctx, config.SchemaRuleSet, rs); err != nil {
		return RuleSet{}, fmt.Errorf("rule file %s: %w", path, err)
	}
	if _, err := compileRules(rs); err != nil {
		return RuleSet{}, fmt.Errorf("rule file %s: %w", path, err)
	}

	l.mu.Lock()
	l.cache[path] = rs
	l.mu.Unlock()

	l.logger.Debug().Str("path", path).Msg("Rule file loaded")
	return rs, nil
}

// Watch reloads the rule set whenever a rule file under paths is written or
// created, and hands the result to reloadFn. Bursts of events are debounced.
// Watching stops when ctx is done.
func (l *RuleLoader) Watch(ctx context.Context, paths []string, reloadFn func(RuleSet) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	l.watcher = watcher

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Failed to stat path for watching")
			continue
		}

		if info.IsDir() {
			err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if d.IsDir() {
					return watcher.Add(p)
				}
				return nil
			})
		} else {
			err = watcher.Add(filepath.Dir(path))
		}
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Failed to watch path")
		}
	}

	go l.processEvents(ctx, paths, reloadFn)

	l.logger.Info().Int("paths", len(paths)).Msg("Watching rule files")
	return nil
}

func (l *RuleLoader) processEvents(ctx context.Context, paths []string, reloadFn func(RuleSet) error) {
	var reloadTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			_ = l.watcher.Close()
			return

		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 || !isRuleFile(event.Name) {
				continue
			}

			l.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Rule file changed")

			l.mu.Lock()
			delete(l.cache, event.Name)
			l.mu.Unlock()

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(l.debounce, func() {
				if err := l.reload(ctx, paths, reloadFn); err != nil {
					l.logger.Error().Err(err).Msg("Failed to reload rules")
				}
			})

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (l *RuleLoader) reload(ctx context.Context, paths []string, reloadFn func(RuleSet) error) error {
	rs, err := l.Load(ctx, paths)
	if err != nil {
		return err
	}
	if err := reloadFn(rs); err != nil {
		return fmt.Errorf("failed to apply reloaded rules: %w", err)
	}
	l.logger.Info().Msg("Rules reloaded")
	return nil
}

func isRuleFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}
