package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// envFilePaths lists the env files consulted by Load, most specific first.
// SCRIPTDESK_ENV_FILE names an extra file that is read before the defaults.
func envFilePaths() []string {
	var paths []string
	if explicit := strings.TrimSpace(os.Getenv(EnvPrefix + "_ENV_FILE")); explicit != "" {
		if p, err := ExpandHome(explicit); err == nil {
			paths = append(paths, p)
		}
	}
	if home, err := resolveHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, ".config", "scriptdesk", "env"),
			filepath.Join(home, ConfigDir, "env"),
			filepath.Join(home, ConfigDir, ".env"),
		)
	}

	out := paths[:0]
	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// applyEnvFiles exports the variables of every readable env file. A variable
// already present in the process environment keeps its value, so earlier
// files win over later ones. It returns the files that were read.
func applyEnvFiles() []string {
	var applied []string
	for _, p := range envFilePaths() {
		vars, err := readEnvFile(p)
		if err != nil {
			continue
		}
		for _, kv := range vars {
			if _, set := os.LookupEnv(kv[0]); !set {
				_ = os.Setenv(kv[0], kv[1])
			}
		}
		applied = append(applied, p)
	}
	return applied
}

// readEnvFile parses KEY=VALUE lines. Blank lines, comments and lines
// without a key are skipped; an "export " prefix and matching quotes around
// the value are stripped.
func readEnvFile(path string) ([][2]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var vars [][2]string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, val, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		vars = append(vars, [2]string{key, unquote(strings.TrimSpace(val))})
	}
	return vars, sc.Err()
}

func unquote(v string) string {
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		return v[1 : len(v)-1]
	}
	return v
}
