package rbac

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/accessgate/pkg/observability"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// roleFile is the on-disk layout of a seed file:
//
//	roles:
//	  - name: Billing
//	    description: Invoicing and payments
//	    permissions: [billing:read, billing:update]
type roleFile struct {
	Roles []RoleDefinition `yaml:"roles"`
}

// ParseRoleDefinitions decodes and validates a YAML seed document
func ParseRoleDefinitions(data []byte) ([]RoleDefinition, error) {
	var file roleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse role definitions: %w", err)
	}

	seen := make(map[string]bool, len(file.Roles))
	for i, def := range file.Roles {
		if err := validate.Struct(def); err != nil {
			return nil, fmt.Errorf("%w: definition %d: %w", ErrInvalidRole, i, err)
		}
		if seen[def.Name] {
			return nil, fmt.Errorf("%w: role %q defined twice", ErrInvalidRole, def.Name)
		}
		seen[def.Name] = true
		for _, perm := range def.Permissions {
			if _, _, ok := ParsePermission(perm); !ok {
				return nil, fmt.Errorf("%w: role %q: permission %q is not resource:action", ErrInvalidRole, def.Name, perm)
			}
		}
		file.Roles[i].Permissions = NormalizePermissions(def.Permissions)
	}
	return file.Roles, nil
}

// LoadRoleDefinitions reads a YAML seed file
func LoadRoleDefinitions(path string) ([]RoleDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read role definitions: %w", err)
	}
	return ParseRoleDefinitions(data)
}

// WatchRoleDefinitions calls onChange with the freshly parsed definitions
// whenever the seed file is written or replaced. Bursts of events within
// debounce are collapsed into one reload. It blocks until ctx is done.
func WatchRoleDefinitions(ctx context.Context, path string, debounce time.Duration, logger *observability.Logger, onChange func([]RoleDefinition)) error {
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory so editors that replace the file by rename are seen
	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(target), err)
	}

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	reload := func() {
		defer observability.RecoverPanic(logger, "role definition reload")

		defs, err := LoadRoleDefinitions(target)
		if err != nil {
			logger.WithError(err).WithField("path", target).Warn("Ignoring invalid role definitions")
			return
		}
		logger.WithField("path", target).Info("Role definitions changed")
		onChange(defs)
	}

	logger.WithField("path", target).Info("Watching role definitions")
	for {
		select {
		case <-ctx.Done():
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			mu.Unlock()
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, reload)
			mu.Unlock()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Warn("Role definition watcher error")
		}
	}
}
