package transformer

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/dop251/goja"
	"github.com/eddielth/sensor-poller/config"
	"github.com/eddielth/sensor-poller/device"
	"github.com/eddielth/sensor-poller/logger"
)

// Manager holds one payload transformer per device model. Model names are
// case-insensitive.
type Manager struct {
	transformers map[string]*Transformer
	mutex        sync.RWMutex
}

// Transformer runs a script defining transform(raw) that returns an object
// with numeric co2 and tvoc properties.
type Transformer struct {
	// a goja.Runtime must not be used from two goroutines at once
	mu         sync.Mutex
	vm         *goja.Runtime
	transform  goja.Callable
	scriptPath string
}

// NewManager compiles every configured transformer.
func NewManager(configs map[string]config.Transformer) (*Manager, error) {
	manager := &Manager{
		transformers: make(map[string]*Transformer, len(configs)),
	}

	for model, cfg := range configs {
		t, err := load(cfg)
		if err != nil {
			return nil, fmt.Errorf("transformer %s: %w", model, err)
		}
		manager.transformers[normalize(model)] = t
		logger.Info("loaded transformer for model %s", model)
	}

	return manager, nil
}

func normalize(model string) string {
	return strings.ToLower(strings.TrimSpace(model))
}

func load(cfg config.Transformer) (*Transformer, error) {
	scriptCode := cfg.ScriptCode
	if scriptCode == "" {
		if cfg.ScriptPath == "" {
			return nil, fmt.Errorf("neither script_code nor script_path is set")
		}
		scriptBytes, err := os.ReadFile(cfg.ScriptPath)
		if err != nil {
			return nil, fmt.Errorf("load script %s: %w", cfg.ScriptPath, err)
		}
		scriptCode = string(scriptBytes)
	}
	return newTransformer(scriptCode, cfg.ScriptPath)
}

func newTransformer(scriptCode, scriptPath string) (*Transformer, error) {
	vm := goja.New()

	_ = vm.Set("log", func(msg string) {
		logger.Debug("[JS] %s", msg)
	})

	_ = vm.Set("parseJSON", func(jsonStr string) interface{} {
		var data interface{}
		if err := json.Unmarshal([]byte(jsonStr), &data); err != nil {
			logger.Warn("parseJSON: %v", err)
			return nil
		}
		return data
	})

	// ppb <-> µg/m³ for TVOC, using the isobutylene reference molar mass
	// most vendors calibrate against.
	_ = vm.Set("ppbToUgm3", func(ppb float64) float64 {
		return ppb * 56.1 / 24.45
	})
	_ = vm.Set("ugm3ToPpb", func(ugm3 float64) float64 {
		return ugm3 * 24.45 / 56.1
	})

	_ = vm.Set("validateRange", func(value, min, max float64) bool {
		return value >= min && value <= max
	})

	if _, err := vm.RunString(scriptCode); err != nil {
		return nil, fmt.Errorf("run script: %w", err)
	}

	transformValue := vm.Get("transform")
	if transformValue == nil {
		return nil, fmt.Errorf("script does not define a 'transform' function")
	}
	transform, ok := goja.AssertFunction(transformValue)
	if !ok {
		return nil, fmt.Errorf("'transform' is not a function")
	}

	return &Transformer{
		vm:         vm,
		transform:  transform,
		scriptPath: scriptPath,
	}, nil
}

// Decode runs the script on a raw body.
func (t *Transformer) Decode(body []byte) (device.Payload, error) {
	t.mu.Lock()
	result, err := t.transform(goja.Undefined(), t.vm.ToValue(string(body)))
	var exported interface{}
	if err == nil {
		exported = result.Export()
	}
	t.mu.Unlock()

	if err != nil {
		return device.Payload{}, fmt.Errorf("transform: %w", err)
	}

	jsonData, err := json.Marshal(exported)
	if err != nil {
		return device.Payload{}, fmt.Errorf("serialize transform result: %w", err)
	}

	var payload device.Payload
	if err := json.Unmarshal(jsonData, &payload); err != nil {
		return device.Payload{}, fmt.Errorf("transform result is not a reading: %w", err)
	}
	return payload, nil
}

// Decoder returns the decoder registered for model.
func (m *Manager) Decoder(model string) (device.Decoder, bool) {
	m.mutex.RLock()
	t, ok := m.transformers[normalize(model)]
	m.mutex.RUnlock()

	if !ok {
		return nil, false
	}
	return t.Decode, true
}

// Models returns the registered model names.
func (m *Manager) Models() []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	models := make([]string, 0, len(m.transformers))
	for model := range m.transformers {
		models = append(models, model)
	}
	return models
}

// ReloadTransformer recompiles the transformer for one model. On failure the
// previous transformer stays in place.
func (m *Manager) ReloadTransformer(model string, cfg config.Transformer) error {
	t, err := load(cfg)
	if err != nil {
		return fmt.Errorf("reload transformer %s: %w", model, err)
	}

	m.mutex.Lock()
	m.transformers[normalize(model)] = t
	m.mutex.Unlock()

	logger.Info("reloaded transformer for model %s", model)
	return nil
}

// Sync makes the registered models match configs. Models missing from configs
// are removed. A model whose script fails to load keeps its previous
// transformer, or stays unregistered if it had none; the failures are
// returned joined.
func (m *Manager) Sync(configs map[string]config.Transformer) error {
	m.mutex.RLock()
	previous := m.transformers
	m.mutex.RUnlock()

	next := make(map[string]*Transformer, len(configs))
	var errs []error
	for model, cfg := range configs {
		key := normalize(model)
		t, err := load(cfg)
		if err != nil {
			errs = append(errs, fmt.Errorf("transformer %s: %w", model, err))
			if old, ok := previous[key]; ok {
				next[key] = old
			}
			continue
		}
		next[key] = t
	}

	for key := range previous {
		if _, ok := next[key]; !ok {
			logger.Info("removed transformer for model %s", key)
		}
	}

	m.mutex.Lock()
	m.transformers = next
	m.mutex.Unlock()
	return errors.Join(errs...)
}
