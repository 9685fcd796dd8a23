package iptables

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/denniswebb/shuttlewire/internal/rules"
)

func TestWriteRuleMap(t *testing.T) {
	t.Parallel()

	logger := discardLogger()
	chain := &SessionChain{Family: rules.FamilyIPv4, Table: "nat", Name: "shuttlewire-12300", State: StateBound}

	t.Run("writes expected contents and permissions", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "rules.map")

		compiled := []rules.Rule{
			{Action: rules.ActionReturn, Source: "192.168.1.10/32"},
			{Action: rules.ActionRedirect, Destination: "10.0.0.0/24", Protocol: rules.ProtocolTCP, ToPort: 12300, LoopGuard: true},
		}
		if err := WriteRuleMap(path, chain, compiled, true, logger); err != nil {
			t.Fatalf("WriteRuleMap returned error: %v", err)
		}

		// #nosec G304 -- temp dir path is fully controlled by test, no external input.
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("ReadFile: %v", err)
		}
		expected := "# Rules installed by shuttlewire\n# Format: position rulespec\n# Chain: nat/shuttlewire-12300 (ipv4)\n" +
			"1 -s 192.168.1.10/32 -j RETURN\n" +
			"2 -d 10.0.0.0/24 -p tcp -j REDIRECT --to-ports 12300 [loop-guard]\n"
		if string(data) != expected {
			t.Fatalf("unexpected map contents:\n%s\nwant:\n%s", data, expected)
		}

		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("Stat: %v", err)
		}
		if info.Mode().Perm() != 0o644 {
			t.Fatalf("file perm = %v, want 0644", info.Mode().Perm())
		}
	})

	t.Run("inactive loop guard leaves rules unmarked", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "rules.map")

		compiled := []rules.Rule{
			{Action: rules.ActionRedirect, Destination: "10.0.0.0/24", Protocol: rules.ProtocolTCP, ToPort: 12300, LoopGuard: true},
		}
		if err := WriteRuleMap(path, chain, compiled, false, logger); err != nil {
			t.Fatalf("WriteRuleMap returned error: %v", err)
		}

		// #nosec G304 -- temp dir path is fully controlled by test, no external input.
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("ReadFile: %v", err)
		}
		if strings.Contains(string(data), "[loop-guard]") {
			t.Fatalf("unexpected loop-guard marker:\n%s", data)
		}
		if !compiled[0].LoopGuard {
			t.Fatal("WriteRuleMap modified the caller's rules")
		}
	})

	t.Run("invalid path returns error", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "missing", "rules.map")
		if err := WriteRuleMap(path, chain, nil, true, logger); err == nil {
			t.Fatal("expected error for invalid path")
		}
	})

	t.Run("path traversal rejected", func(t *testing.T) {
		t.Parallel()
		if err := WriteRuleMap("../rules.map", chain, nil, true, logger); err == nil {
			t.Fatal("expected error for traversal path")
		}
	})
}

func TestValidateRuleMapPath(t *testing.T) {
	t.Parallel()

	for _, path := range []string{"rules.map", "/var/run/shuttlewire/rules.map", "./a/../rules.map"} {
		if err := ValidateRuleMapPath(path); err != nil {
			t.Fatalf("ValidateRuleMapPath(%q) = %v, want nil", path, err)
		}
	}
	for _, path := range []string{"../rules.map", "a/../../rules.map"} {
		if err := ValidateRuleMapPath(path); err == nil {
			t.Fatalf("ValidateRuleMapPath(%q) = nil, want error", path)
		}
	}
}

func TestRemoveRuleMap(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rules.map")
	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := RemoveRuleMap(path); err != nil {
		t.Fatalf("RemoveRuleMap: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected file removed, stat err=%v", err)
	}
	if err := RemoveRuleMap(path); err != nil {
		t.Fatalf("RemoveRuleMap on missing file: %v", err)
	}
	if err := RemoveRuleMap(""); err != nil {
		t.Fatalf("RemoveRuleMap on empty path: %v", err)
	}
}
