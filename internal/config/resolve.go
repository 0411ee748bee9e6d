package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

const includeKey = "$include"

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// loadResolvedConfig reads the config file at path with its includes folded
// in and ${VAR} references expanded, and returns it re-encoded as JSON.
func loadResolvedConfig(path string) ([]byte, error) {
	r := &resolver{open: map[string]bool{}}
	doc, err := r.resolve(path)
	if err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

// resolver tracks the include chain currently being read.
type resolver struct {
	open map[string]bool
}

// resolve returns the document at path layered over its includes, in the
// order they are listed. Keys of the including file win.
func (r *resolver) resolve(path string) (map[string]any, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if r.open[abs] {
		return nil, fmt.Errorf("config include cycle detected at %s", abs)
	}
	r.open[abs] = true
	defer delete(r.open, abs)

	doc, err := decodeFile(abs)
	if err != nil {
		return nil, err
	}

	includes, err := includeList(doc[includeKey])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", abs, err)
	}
	delete(doc, includeKey)

	base := map[string]any{}
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(abs), inc)
		}
		child, err := r.resolve(inc)
		if err != nil {
			return nil, err
		}
		overlay(base, child)
	}
	overlay(base, expandEnv(doc).(map[string]any))
	return base, nil
}

func decodeFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc := map[string]any{}
	if isYAML(path) {
		err = yaml.Unmarshal(data, &doc)
	} else {
		err = json.Unmarshal(data, &doc)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}

// includeList accepts a single path or a list of paths. Blank entries are
// ignored.
func includeList(v any) ([]string, error) {
	var items []any
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		items = []any{t}
	case []any:
		items = t
	default:
		return nil, fmt.Errorf("%s must be a string or a list of strings", includeKey)
	}

	var paths []string
	for _, item := range items {
		p, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("%s entries must be strings", includeKey)
		}
		if p = strings.TrimSpace(p); p != "" {
			paths = append(paths, p)
		}
	}
	return paths, nil
}

// overlay copies src into dst, descending into objects present on both sides.
func overlay(dst, src map[string]any) {
	for k, v := range src {
		sub, ok := v.(map[string]any)
		if !ok {
			dst[k] = v
			continue
		}
		target, ok := dst[k].(map[string]any)
		if !ok {
			target = map[string]any{}
			dst[k] = target
		}
		overlay(target, sub)
	}
}

// expandEnv replaces ${VAR} in every string of v. References to unset
// variables are left as written.
func expandEnv(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, item := range t {
			t[k] = expandEnv(item)
		}
	case []any:
		for i, item := range t {
			t[i] = expandEnv(item)
		}
	case string:
		return envRef.ReplaceAllStringFunc(t, func(ref string) string {
			if val, ok := os.LookupEnv(ref[2 : len(ref)-1]); ok {
				return val
			}
			return ref
		})
	}
	return v
}
