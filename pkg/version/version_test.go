package version

import (
	"strings"
	"testing"
)

func TestInfo(t *testing.T) {
	info := Info()
	for _, key := range []string{"version", "buildTime", "gitCommit", "goVersion"} {
		if info[key] == "" {
			t.Errorf("expected %s to be set", key)
		}
	}
	if info["version"] != Version {
		t.Errorf("expected version %q, got %q", Version, info["version"])
	}
}

func TestString(t *testing.T) {
	prev := Version
	Version = "v9.9.9"
	t.Cleanup(func() { Version = prev })

	s := String()
	if !strings.HasPrefix(s, "npcforge v9.9.9 ") || !strings.Contains(s, GoVersion) {
		t.Errorf("unexpected version string %q", s)
	}
}
