package denom

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/xela07ax/spaceai-policy-runtime/internal/domain"
)

const (
	// EnvRegistryPath перекрывает путь к реестру, если явный путь не задан.
	EnvRegistryPath     = "TOKENS_CONFIG_PATH"
	DefaultRegistryPath = "config/tokens.json"
)

// TokenEntry — запись файла реестра (JSON или YAML массив).
type TokenEntry struct {
	Symbol   string  `json:"symbol" yaml:"symbol"`
	ChainID  *int64  `json:"chain_id,omitempty" yaml:"chain_id,omitempty"`
	Decimals *int    `json:"decimals" yaml:"decimals"`
	Address  *string `json:"address,omitempty" yaml:"address,omitempty"`
	Native   bool    `json:"native,omitempty" yaml:"native,omitempty"`
}

// RegistryPath: явный путь -> TOKENS_CONFIG_PATH -> config/tokens.json.
func RegistryPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if env := os.Getenv(EnvRegistryPath); env != "" {
		return env
	}
	return DefaultRegistryPath
}

// LoadRegistry читает реестр. Любая ошибка даёт пустой реестр: резолвер
// просто перейдёт к следующим уровням fallback.
func LoadRegistry(explicitPath string, logger *zap.Logger) Registry {
	path := RegistryPath(explicitPath)
	reg, err := ReadRegistry(path)
	if err != nil {
		if logger != nil {
			logger.Warn("token registry unavailable, using fallbacks", zap.String("path", path), zap.Error(err))
		}
		return Registry{}
	}
	return reg
}

// ReadRegistry — строгий вариант LoadRegistry, ошибка возвращается вызывающему.
func ReadRegistry(path string) (Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}

	var entries []TokenEntry
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &entries)
	default:
		err = json.Unmarshal(data, &entries)
	}
	if err != nil {
		return nil, fmt.Errorf("parse registry %s: %w", path, err)
	}

	reg := make(Registry, len(entries))
	for _, t := range entries {
		sym := strings.ToUpper(strings.TrimSpace(t.Symbol))
		if sym == "" || t.Decimals == nil || *t.Decimals < 0 {
			continue
		}
		// Первый встреченный символ выигрывает: decimals одного символа на разных сетях совпадают.
		if _, seen := reg[sym]; seen {
			continue
		}
		info := domain.DenomInfo{Decimals: *t.Decimals, ChainID: t.ChainID}
		if t.Address != nil {
			info.Address = strings.ToLower(*t.Address)
		}
		reg[sym] = info
	}
	return reg, nil
}
