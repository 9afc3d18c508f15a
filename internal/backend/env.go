package backend

import (
	"os"
	"sort"
	"strings"
)

// BuildCommandEnv merges base (the host environment when nil) with overrides
// applied left to right. The result is sorted for stable logging.
func BuildCommandEnv(base []string, overrides ...map[string]string) []string {
	if base == nil {
		base = os.Environ()
	}

	envMap := make(map[string]string, len(base))
	for _, kv := range base {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}
		envMap[key] = value
	}

	for _, override := range overrides {
		for key, value := range override {
			if strings.TrimSpace(key) == "" {
				continue
			}
			envMap[key] = value
		}
	}

	keys := make([]string, 0, len(envMap))
	for key := range envMap {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := make([]string, 0, len(keys))
	for _, key := range keys {
		result = append(result, key+"="+envMap[key])
	}
	return result
}
