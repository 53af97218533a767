package buildinfo

import (
	"strings"
	"testing"
)

func TestInfoKeys(t *testing.T) {
	info := Info()
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "platform", "uptime"} {
		if _, ok := info[k]; !ok {
			t.Errorf("Info() missing key %q", k)
		}
	}
}

func TestUserAgent(t *testing.T) {
	old := Version
	Version = "1.2.3"
	defer func() { Version = old }()

	if got := UserAgent(); got != "vercade/1.2.3" {
		t.Errorf("UserAgent() = %q, want %q", got, "vercade/1.2.3")
	}
	if !strings.Contains(String(), "1.2.3") {
		t.Errorf("String() = %q, want version in output", String())
	}
}
