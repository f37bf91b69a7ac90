// Package env manipulates the process environment: clearing the inherited
// parent environment and establishing the minimal container environment
// used by the boot sequence's environment-setup step (§4.1 step 22).
package env

import (
	"fmt"
	"os"
	"strings"
)

// SetFromList sets environment variables from environ argument list.
func SetFromList(environ []string) error {
	for _, env := range environ {
		splitted := strings.SplitN(env, "=", 2)
		if len(splitted) != 2 {
			return fmt.Errorf("can't process environment variable %s", env)
		}
		if err := os.Setenv(splitted[0], splitted[1]); err != nil {
			return err
		}
	}
	return nil
}

// Minimal returns the minimal container environment established by the
// boot sequence after clearing the parent environment: PATH, TERM, LANG,
// HOME, and the container=droidspaces marker read by systemd-detect-virt
// and equivalent tooling.
func Minimal() []string {
	return []string{
		"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
		"TERM=xterm-256color",
		"LANG=C.UTF-8",
		"HOME=/root",
		"container=droidspaces",
	}
}

// LoadFile parses an /etc/environment-style file (KEY=VALUE per line,
// blank lines and lines starting with # ignored) and sets each variable.
// A missing file is not an error: /etc/environment is optional.
func LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading %s: %w", path, err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		splitted := strings.SplitN(line, "=", 2)
		if len(splitted) != 2 {
			continue
		}
		key := strings.TrimSpace(splitted[0])
		value := strings.Trim(strings.TrimSpace(splitted[1]), `"`)
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("setting %s: %w", key, err)
		}
	}
	return nil
}
