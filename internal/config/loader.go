package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

// includeKey lists files merged underneath the including document. Entries
// are paths relative to the including file and may be glob patterns.
const includeKey = "$include"

const hooksKey = "hooks"

var errMultipleDocuments = errors.New("expected a single document")

// LoadRaw reads a configuration file into a merged raw map. Environment
// references are expanded and $include directives resolved.
func LoadRaw(path string) (map[string]any, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path is required")
	}
	return loadFile(path, map[string]bool{})
}

func loadFile(path string, loading map[string]bool) (map[string]any, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if loading[absPath] {
		return nil, fmt.Errorf("config include cycle at %s", absPath)
	}
	loading[absPath] = true
	defer delete(loading, absPath)

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	raw, err := parseRawBytes([]byte(os.ExpandEnv(string(data))), absPath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}

	includes, err := extractIncludes(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	paths, err := expandIncludes(filepath.Dir(absPath), includes)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}

	merged := map[string]any{}
	for _, inc := range paths {
		incRaw, err := loadFile(inc, loading)
		if err != nil {
			return nil, err
		}
		merged = mergeDocument(merged, incRaw)
	}
	return mergeDocument(merged, raw), nil
}

// mergeDocument merges one config document into another. Hook lists
// concatenate in include order so hooks.d fragments each add their hooks;
// everything else merges as maps.
func mergeDocument(dst, src map[string]any) map[string]any {
	srcHooks, ok := src[hooksKey].([]any)
	if !ok {
		return mergeMaps(dst, src)
	}
	dstHooks, _ := dst[hooksKey].([]any)
	rest := make(map[string]any, len(src))
	for k, v := range src {
		if k != hooksKey {
			rest[k] = v
		}
	}
	dst = mergeMaps(dst, rest)
	dst[hooksKey] = append(slices.Clip(dstHooks), srcHooks...)
	return dst
}

// expandIncludes resolves include entries against dir. A pattern that
// matches nothing is an error so typos do not silently drop settings.
func expandIncludes(dir string, includes []string) ([]string, error) {
	var paths []string
	for _, inc := range includes {
		inc = strings.TrimSpace(inc)
		if inc == "" {
			continue
		}
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(dir, inc)
		}
		if !strings.ContainsAny(inc, "*?[") {
			paths = append(paths, inc)
			continue
		}
		matches, err := filepath.Glob(inc)
		if err != nil {
			return nil, fmt.Errorf("include %q: %w", inc, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("include %q matched no files", inc)
		}
		slices.Sort(matches)
		paths = append(paths, matches...)
	}
	return paths, nil
}

func parseRawBytes(data []byte, pathHint string) (map[string]any, error) {
	var raw map[string]any
	switch strings.ToLower(filepath.Ext(pathHint)) {
	case ".json", ".json5":
		if err := json5.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	default:
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		if err := decoder.Decode(&raw); err != nil && err != io.EOF {
			return nil, fmt.Errorf("parse config: %w", err)
		}
		if err := decoder.Decode(&struct{}{}); err != io.EOF {
			return nil, fmt.Errorf("parse config: %w", errMultipleDocuments)
		}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

func extractIncludes(raw map[string]any) ([]string, error) {
	value, ok := raw[includeKey]
	if !ok {
		return nil, nil
	}
	delete(raw, includeKey)

	switch typed := value.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{typed}, nil
	case []any:
		paths := make([]string, 0, len(typed))
		for _, entry := range typed {
			s, ok := entry.(string)
			if !ok {
				return nil, fmt.Errorf("%s entries must be strings", includeKey)
			}
			paths = append(paths, s)
		}
		return paths, nil
	default:
		return nil, fmt.Errorf("%s must be a string or a list of strings", includeKey)
	}
}

// mergeMaps merges src into dst. Nested maps merge key by key; any other
// value in src replaces the one in dst.
func mergeMaps(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for key, value := range src {
		if sub, ok := value.(map[string]any); ok {
			if existing, ok := dst[key].(map[string]any); ok {
				dst[key] = mergeMaps(existing, sub)
				continue
			}
		}
		dst[key] = value
	}
	return dst
}

func decodeRawConfig(raw map[string]any) (*Config, error) {
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(payload))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}
