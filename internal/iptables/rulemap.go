package iptables

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/denniswebb/shuttlewire/internal/rules"
)

const ruleMapHeader = "# Rules installed by shuttlewire\n# Format: position rulespec\n"

// WriteRuleMap records the installed rules of chain for auditing. When
// loopGuard is false no rule is marked as guarded, matching what the
// Applier actually installed.
func WriteRuleMap(path string, chain *SessionChain, compiled []rules.Rule, loopGuard bool, logger *slog.Logger) error {
	if err := ValidateRuleMapPath(path); err != nil {
		return err
	}

	var b strings.Builder
	b.WriteString(ruleMapHeader)
	fmt.Fprintf(&b, "# Chain: %s/%s (%s)\n", chain.Table, chain.Name, chain.Family)
	for i, rule := range compiled {
		rule.LoopGuard = rule.LoopGuard && loopGuard
		fmt.Fprintf(&b, "%d %s\n", i+1, rule)
	}

	// #nosec G306 -- the rule map is an audit artifact meant to be world readable.
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write rule map %s: %w", path, err)
	}

	logger.Info("rule map written", slog.String("path", path), slog.Int("rules", len(compiled)))
	return nil
}

// RemoveRuleMap deletes the rule map. A missing file is not an error.
func RemoveRuleMap(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := ValidateRuleMapPath(path); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove rule map %s: %w", path, err)
	}
	return nil
}

// ValidateRuleMapPath rejects paths with ".." components.
func ValidateRuleMapPath(path string) error {
	clean := filepath.Clean(path)
	for _, part := range strings.Split(clean, string(filepath.Separator)) {
		if part == ".." {
			return fmt.Errorf("rule map path %q contains unsupported traversal component", path)
		}
	}
	return nil
}
