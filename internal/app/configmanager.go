package app

import (
	"sync"
	"time"

	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/REFFIX-BR/acaiteria-sub001/internal/domain"
	"github.com/REFFIX-BR/acaiteria-sub001/pkg/common"
)

const configCacheTTL = 30 * time.Second

// ConfigManager reads runtime settings from the sys_config table with a
// short-lived in-memory cache.
type ConfigManager struct {
	app *Application

	mu     sync.RWMutex
	cache  map[string]string
	loaded time.Time
}

func NewConfigManager(app *Application) *ConfigManager {
	return &ConfigManager{app: app, cache: make(map[string]string)}
}

func (m *ConfigManager) lookup(category, name string) string {
	key := category + "." + name
	m.mu.RLock()
	if time.Since(m.loaded) < configCacheTTL {
		v, ok := m.cache[key]
		m.mu.RUnlock()
		if ok {
			return v
		}
		return ""
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if time.Since(m.loaded) >= configCacheTTL {
		var items []domain.SysConfig
		if err := m.app.gormDB.Find(&items).Error; err != nil {
			zap.L().Warn("failed to load sys_config", zap.Error(err))
			return m.cache[key]
		}
		m.cache = make(map[string]string, len(items))
		for _, it := range items {
			m.cache[it.Type+"."+it.Name] = it.Value
		}
		m.loaded = time.Now()
	}
	return m.cache[key]
}

func (m *ConfigManager) GetString(category, name string) string {
	return m.lookup(category, name)
}

func (m *ConfigManager) GetInt(category, name string) int {
	return cast.ToInt(m.lookup(category, name))
}

func (m *ConfigManager) GetInt64(category, name string) int64 {
	return cast.ToInt64(m.lookup(category, name))
}

func (m *ConfigManager) GetBool(category, name string) bool {
	return cast.ToBool(m.lookup(category, name))
}

// Save writes settings keyed "category.name" back to sys_config and
// invalidates the cache.
func (m *ConfigManager) Save(settings map[string]interface{}) error {
	for key, value := range settings {
		parts := splitKey(key)
		if parts == nil {
			continue
		}
		category, name := parts[0], parts[1]
		val := cast.ToString(value)

		var count int64
		m.app.gormDB.Model(&domain.SysConfig{}).
			Where("type = ? and name = ?", category, name).Count(&count)
		if count == 0 {
			if err := m.app.gormDB.Create(&domain.SysConfig{
				ID:    common.UUIDint64(),
				Type:  category,
				Name:  name,
				Value: val,
			}).Error; err != nil {
				return err
			}
			continue
		}
		if err := m.app.gormDB.Model(&domain.SysConfig{}).
			Where("type = ? and name = ?", category, name).
			Updates(map[string]interface{}{"value": val, "updated_at": time.Now()}).Error; err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.loaded = time.Time{}
	m.mu.Unlock()
	return nil
}

func splitKey(key string) []string {
	for i := 0; i < len(key); i++ {
		if key[i] == '.' {
			return []string{key[:i], key[i+1:]}
		}
	}
	return nil
}
