package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

// includeKey lists files merged underneath the including file. Later files
// and the including file itself win on conflicts.
const includeKey = "$include"

// expandEnv replaces ${VAR} and $VAR with the environment value.
// ${VAR:-default} falls back to default when VAR is unset or empty.
func expandEnv(s string) string {
	return os.Expand(s, func(key string) string {
		name, fallback, hasDefault := strings.Cut(key, ":-")
		if v := os.Getenv(name); v != "" || !hasDefault {
			return v
		}
		return fallback
	})
}

// expandValues expands the environment in string values only. Keys such as
// $include are left alone. A value that was changed by expansion is re-read as
// a YAML scalar so ${PORT} can still fill an integer field.
func expandValues(doc map[string]any) {
	for key, value := range doc {
		doc[key] = expandValue(value)
	}
}

func expandValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		expandValues(typed)
		return typed
	case []any:
		for i := range typed {
			typed[i] = expandValue(typed[i])
		}
		return typed
	case string:
		expanded := expandEnv(typed)
		if expanded == typed {
			return typed
		}
		var scalar any
		if err := yaml.Unmarshal([]byte(expanded), &scalar); err == nil {
			switch scalar.(type) {
			case int, float64, bool:
				return scalar
			}
		}
		return expanded
	default:
		return v
	}
}

// LoadRaw reads path into a generic map with includes resolved and the
// environment expanded. It does not apply defaults or validate.
func LoadRaw(path string) (map[string]any, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("config path is required")
	}
	l := &rawLoader{}
	return l.load(path)
}

// rawLoader walks an include graph depth first. chain holds the files being
// loaded so a revisit is reported as a cycle.
type rawLoader struct {
	chain []string
}

func (l *rawLoader) load(path string) (map[string]any, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	for _, p := range l.chain {
		if p == abs {
			return nil, fmt.Errorf("config include cycle: %s -> %s", strings.Join(l.chain, " -> "), abs)
		}
	}
	l.chain = append(l.chain, abs)
	defer func() { l.chain = l.chain[:len(l.chain)-1] }()

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}
	doc, err := parseDocument(data, filepath.Ext(abs))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", abs, err)
	}
	expandValues(doc)

	includes, err := popIncludes(doc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", abs, err)
	}

	merged := map[string]any{}
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(abs), inc)
		}
		sub, err := l.load(inc)
		if err != nil {
			return nil, err
		}
		deepMerge(merged, sub)
	}
	deepMerge(merged, doc)
	return merged, nil
}

// parseDocument decodes a single YAML document, or JSON5 for .json/.json5.
func parseDocument(data []byte, ext string) (map[string]any, error) {
	doc := map[string]any{}
	switch strings.ToLower(ext) {
	case ".json", ".json5":
		if err := json5.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
			return nil, errors.New("expected a single YAML document")
		}
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}

func popIncludes(doc map[string]any) ([]string, error) {
	v, ok := doc[includeKey]
	if !ok {
		return nil, nil
	}
	delete(doc, includeKey)

	var out []string
	switch typed := v.(type) {
	case nil:
	case string:
		out = append(out, typed)
	case []any:
		for _, entry := range typed {
			s, ok := entry.(string)
			if !ok {
				return nil, fmt.Errorf("%s entries must be strings", includeKey)
			}
			out = append(out, s)
		}
	default:
		return nil, fmt.Errorf("%s must be a string or a list of strings", includeKey)
	}

	paths := out[:0]
	for _, p := range out {
		if strings.TrimSpace(p) != "" {
			paths = append(paths, p)
		}
	}
	return paths, nil
}

// deepMerge copies src into dst. Nested maps merge; any other value replaces.
func deepMerge(dst, src map[string]any) {
	for key, value := range src {
		sub, isMap := value.(map[string]any)
		existing, hasMap := dst[key].(map[string]any)
		if isMap && hasMap {
			deepMerge(existing, sub)
			continue
		}
		dst[key] = value
	}
}

// decodeRawConfig round-trips the merged map through YAML into Config so
// unknown keys are rejected with their position.
func decodeRawConfig(raw map[string]any) (*Config, error) {
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize config: %w", err)
	}
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(payload))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
