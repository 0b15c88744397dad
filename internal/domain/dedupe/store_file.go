package dedupe

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"order-messaging-automation/internal/infra/logger"
	"order-messaging-automation/internal/infra/storage"
)

// FileGuard is the local/dev Duplicate Guard backend: the full key set lives
// in memory and is mirrored to a single JSON file via
// storage.AtomicWriteFile, the same atomic-write pattern the Job Queue's
// QueueStore uses. Every Mark/Clear writes through synchronously: the guard
// must be durable before Check can be relied on by a concurrent poll cycle.
type FileGuard struct {
	path string

	mu   sync.Mutex
	keys map[string]struct{}
}

// NewFileGuard loads (or initializes) the key set at path.
func NewFileGuard(path string) (*FileGuard, error) {
	clean := filepath.Clean(path)
	set, err := loadKeySet(clean)
	if err != nil {
		return nil, err
	}
	return &FileGuard{path: clean, keys: set}, nil
}

func loadKeySet(path string) (map[string]struct{}, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]struct{}), nil
		}
		return nil, fmt.Errorf("read dedupe file: %w", err)
	}
	if len(raw) == 0 {
		return make(map[string]struct{}), nil
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		logger.Warnf("FileGuard: failed to decode %s: %v; starting empty", path, err)
		return make(map[string]struct{}), nil
	}

	set := make(map[string]struct{}, len(list))
	for _, k := range list {
		set[k] = struct{}{}
	}
	return set, nil
}

func (g *FileGuard) Check(_ context.Context, orderID, phone, name, msgType string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, k := range keys(orderID, phone, name, msgType) {
		if _, ok := g.keys[k.value]; ok {
			return true, nil
		}
	}
	return false, nil
}

func (g *FileGuard) Mark(_ context.Context, orderID, phone, name, msgType string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, k := range keys(orderID, phone, name, msgType) {
		g.keys[k.value] = struct{}{}
	}
	return g.persistLocked()
}

func (g *FileGuard) Clear(_ context.Context, orderID, phone, name, msgType string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, k := range keys(orderID, phone, name, msgType) {
		delete(g.keys, k.value)
	}
	return g.persistLocked()
}

func (g *FileGuard) persistLocked() error {
	list := make([]string, 0, len(g.keys))
	for k := range g.keys {
		list = append(list, k)
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("encode dedupe set: %w", err)
	}
	if err := storage.AtomicWriteFile(g.path, data); err != nil {
		return fmt.Errorf("persist dedupe set: %w", err)
	}
	return nil
}
