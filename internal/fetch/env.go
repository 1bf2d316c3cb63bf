package fetch

import (
	"fmt"
	"os"
	"strings"
)

// LoadToken returns the named credential from the .env file at path, falling
// back to the process environment. .env lines are KEY=VALUE; blank lines and
// #-comments are ignored.
func LoadToken(path, key string) (string, error) {
	if data, err := os.ReadFile(path); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			k, v, ok := strings.Cut(line, "=")
			if !ok || strings.TrimSpace(k) != key {
				continue
			}
			if val := strings.TrimSpace(v); val != "" {
				return val, nil
			}
		}
	}

	if token := os.Getenv(key); token != "" {
		return token, nil
	}
	return "", fmt.Errorf("%s not set: add it to %s or export it in the environment", key, path)
}
