package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSummarizeRuleMapCounts(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	write := func(tb testing.TB, name, content string) string {
		tb.Helper()
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			tb.Fatalf("failed to write %s: %v", path, err)
		}
		return path
	}

	header := "# Rules installed by shuttlewire\n# Format: position rulespec\n# Chain: nat/shuttlewire-12300 (ipv4)\n"

	tests := []struct {
		name        string
		path        string
		setup       func(t *testing.T) string
		wantCount   int
		expectError string
	}{
		{
			name: "installed rules",
			setup: func(t *testing.T) string {
				return write(t, "valid.map", header+
					"1 -s 192.168.1.10/32 -j RETURN\n"+
					"2 -d 192.168.1.10/32 -j RETURN\n"+
					"3 -d 10.0.0.0/8 -p tcp -j REDIRECT --to-ports 12300 [loop-guard]\n")
			},
			wantCount: 3,
		},
		{
			name: "header only",
			setup: func(t *testing.T) string {
				return write(t, "header.map", header)
			},
			wantCount: 0,
		},
		{
			name: "blank lines ignored",
			setup: func(t *testing.T) string {
				return write(t, "blank.map", "\n1 -s 10.0.0.1/32 -j RETURN\n   \n2 -d 10.0.0.1/32 -j RETURN\n\n")
			},
			wantCount: 2,
		},
		{
			name:      "file not found",
			path:      filepath.Join(dir, "missing.map"),
			wantCount: 0,
		},
		{
			name:      "empty path",
			path:      "  ",
			wantCount: 0,
		},
		{
			name:        "path traversal rejected",
			path:        "../etc/passwd",
			expectError: "contains unsupported traversal component",
		},
		{
			name: "permission denied",
			setup: func(t *testing.T) string {
				if os.Geteuid() == 0 {
					t.Skip("skipping permission denied scenario when running as root")
				}
				path := write(t, "restricted.map", "1 -s 10.0.0.1/32 -j RETURN\n")
				if err := os.Chmod(path, 0o000); err != nil {
					t.Fatalf("chmod failed: %v", err)
				}
				t.Cleanup(func() {
					_ = os.Chmod(path, 0o600)
				})
				return path
			},
			expectError: "open rule map",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			path := tc.path
			if tc.setup != nil {
				path = tc.setup(t)
			}

			summary, err := SummarizeRuleMap(path)

			if tc.expectError != "" {
				if err == nil {
					t.Fatalf("expected error containing %q, got nil", tc.expectError)
				}
				if !strings.Contains(err.Error(), tc.expectError) {
					t.Fatalf("expected error to contain %q, got %v", tc.expectError, err)
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if summary.Rules != tc.wantCount {
				t.Fatalf("unexpected rule count: got %d want %d", summary.Rules, tc.wantCount)
			}
		})
	}
}

func TestSummarizeRuleMap(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rules.map")
	content := "# Rules installed by shuttlewire\n# Format: position rulespec\n# Chain: nat/shuttlewire-12300 (ipv4)\n" +
		"1 -s 192.168.1.10/32 -j RETURN\n" +
		"2 -d 192.168.1.10/32 -j RETURN\n" +
		"3 -s 172.17.0.0/16 -j RETURN\n" +
		"4 -d 172.17.0.0/16 -j RETURN\n" +
		"5 -d 10.0.0.0/24 -p tcp -j REDIRECT --to-ports 12300 [loop-guard]\n" +
		"6 -d 10.0.0.0/16 -p tcp -j RETURN\n" +
		"7 -d 10.0.0.53/32 -p udp --dport 53 -j REDIRECT --to-ports 12301 [loop-guard]\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}

	summary, err := SummarizeRuleMap(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := RuleMapSummary{Chain: "nat/shuttlewire-12300", Rules: 7, Redirects: 2, Returns: 5, LoopGuarded: 2}
	if summary != want {
		t.Fatalf("unexpected summary: got %+v want %+v", summary, want)
	}
}
