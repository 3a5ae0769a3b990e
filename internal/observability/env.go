package observability

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// LoadDotEnv sets variables from path that are not already in the
// environment. A missing file is not an error.
func LoadDotEnv(logger *slog.Logger, path string) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		path = ".env"
	}
	file, err := os.Open(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("failed to open env file", "path", path, "error", err)
		}
		return
	}
	defer file.Close()

	loaded := 0
	scanner := bufio.NewScanner(file)
	for line := 1; scanner.Scan(); line++ {
		key, value, err := parseEnvLine(scanner.Text())
		if err != nil {
			logger.Warn("skipping env entry", "path", path, "line", line, "error", err)
			continue
		}
		if key == "" {
			continue
		}
		if _, set := os.LookupEnv(key); set {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			logger.Warn("failed to set env var", "key", key, "error", err)
			continue
		}
		loaded++
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("failed to read env file", "path", path, "error", err)
		return
	}
	logger.Debug("loaded env file", "path", path, "count", loaded)
}

// parseEnvLine returns an empty key for blank lines and comments.
func parseEnvLine(raw string) (string, string, error) {
	line := strings.TrimSpace(raw)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", nil
	}
	line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
	key, value, found := strings.Cut(line, "=")
	if !found {
		return "", "", errors.New("missing '='")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", "", errors.New("missing key")
	}
	value = strings.TrimSpace(value)
	if strings.HasPrefix(value, `"`) || strings.HasPrefix(value, "'") {
		end := strings.LastIndex(value, value[:1])
		if end == 0 {
			return "", "", fmt.Errorf("unterminated quote for %s", key)
		}
		quoted := value[:end+1]
		if quoted[0] == '\'' {
			return key, quoted[1 : len(quoted)-1], nil
		}
		unquoted, err := strconv.Unquote(quoted)
		if err != nil {
			return "", "", fmt.Errorf("decode %s: %w", key, err)
		}
		return key, unquoted, nil
	}
	if idx := strings.Index(value, " #"); idx >= 0 {
		value = strings.TrimSpace(value[:idx])
	}
	return key, value, nil
}
