package metrics

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/denniswebb/shuttlewire/internal/iptables"
)

const (
	chainHeaderPrefix = "# Chain:"
	loopGuardMarker   = "[loop-guard]"
)

// RuleMapSummary describes the rules recorded in a rule map file.
type RuleMapSummary struct {
	Chain       string
	Rules       int
	Redirects   int
	Returns     int
	LoopGuarded int
}

// SummarizeRuleMap reads a rule map written at setup. A missing file yields
// an empty summary.
func SummarizeRuleMap(path string) (RuleMapSummary, error) {
	var summary RuleMapSummary

	cleanPath := strings.TrimSpace(path)
	if cleanPath == "" {
		return summary, nil
	}

	if err := iptables.ValidateRuleMapPath(cleanPath); err != nil {
		return summary, err
	}

	// #nosec G304 -- path is operator configuration and traversal is rejected above.
	file, err := os.Open(cleanPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return summary, nil
		}
		return summary, fmt.Errorf("open rule map %s: %w", cleanPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, chainHeaderPrefix):
			// "# Chain: nat/shuttlewire-12300 (ipv4)"
			fields := strings.Fields(strings.TrimPrefix(line, chainHeaderPrefix))
			if len(fields) > 0 {
				summary.Chain = fields[0]
			}
			continue
		case strings.HasPrefix(line, "#"):
			continue
		}

		summary.Rules++
		switch {
		case strings.Contains(line, "-j REDIRECT"):
			summary.Redirects++
		case strings.Contains(line, "-j RETURN"):
			summary.Returns++
		}
		if strings.HasSuffix(line, loopGuardMarker) {
			summary.LoopGuarded++
		}
	}

	if err := scanner.Err(); err != nil {
		return RuleMapSummary{}, fmt.Errorf("scan rule map %s: %w", cleanPath, err)
	}

	return summary, nil
}
