// Package env loads KEY=VALUE files into the process environment.
package env

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Load applies each file in order. Variables already present in the process
// environment win over file values; among files the later one wins, so
// Load(".env", ".env.local") lets local overrides apply. Missing files are
// skipped. It returns the keys it set.
func Load(paths ...string) ([]string, error) {
	pre := map[string]bool{}
	for _, e := range os.Environ() {
		if k, _, ok := strings.Cut(e, "="); ok && k != "" {
			pre[k] = true
		}
	}
	var set []string
	for _, p := range paths {
		if p == "" {
			continue
		}
		vars, err := readFile(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return set, err
		}
		for _, kv := range vars {
			if pre[kv[0]] {
				continue
			}
			if err := os.Setenv(kv[0], kv[1]); err != nil {
				return set, fmt.Errorf("set %s: %w", kv[0], err)
			}
			set = append(set, kv[0])
		}
	}
	return set, nil
}

func readFile(path string) ([][2]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out [][2]string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if k, v, ok := parseLine(sc.Text()); ok {
			out = append(out, [2]string{k, v})
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return out, nil
}

func parseLine(line string) (string, string, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
	k, v, ok := strings.Cut(line, "=")
	k = strings.TrimSpace(k)
	if !ok || k == "" {
		return "", "", false
	}
	v = strings.TrimSpace(v)
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		return k, v[1 : len(v)-1], true
	}
	if i := strings.Index(v, " #"); i >= 0 {
		v = strings.TrimSpace(v[:i])
	}
	return k, v, true
}
