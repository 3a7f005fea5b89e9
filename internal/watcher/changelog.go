package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const maxChangelogSections = 100

var sectionHeaderRe = regexp.MustCompile(`(?m)^## `)

// writeChangelog appends a new dated section to the auto-detected-changes
// ledger, trimming the oldest sections once the cap is exceeded, then commits
// the ledger itself.
func (w *Watcher) writeChangelog(result BatchResult) error {
	if err := os.MkdirAll(filepath.Dir(w.changelogPath), 0o755); err != nil {
		return fmt.Errorf("create infrastructure dir: %w", err)
	}

	existing, _ := os.ReadFile(w.changelogPath)
	section := renderSection(result, w.now())
	updated := trimSections(string(existing)+section, maxChangelogSections)

	if err := os.WriteFile(w.changelogPath, []byte(updated), 0o644); err != nil {
		return fmt.Errorf("write changelog: %w", err)
	}

	rel, err := filepath.Rel(w.root, w.changelogPath)
	if err != nil {
		rel = w.changelogPath
	}
	return w.stageAndCommit([]string{rel})
}

func renderSection(result BatchResult, at time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n\n", at.UTC().Format(time.RFC3339))

	for _, c := range result.ComposeChanges {
		fmt.Fprintf(&b, "- compose file changed: %s\n", c.File)
		for _, svc := range c.Services {
			fmt.Fprintf(&b, "  - service %s (image: %s, ports: %s, networks: %s)\n",
				svc.Name, svc.Image, strings.Join(svc.Ports, ","), strings.Join(svc.Networks, ","))
		}
	}
	for _, d := range result.NewDirectories {
		fmt.Fprintf(&b, "- new directory detected: %s\n", d)
	}
	for _, c := range result.Credentials {
		fmt.Fprintf(&b, "- credential pattern detected in %s: %s\n", c.File, c.Masked)
	}
	if len(result.ComposeChanges) == 0 && len(result.NewDirectories) == 0 && len(result.Credentials) == 0 {
		b.WriteString("- no notable infrastructure signals in this batch\n")
	}
	b.WriteString("\n")
	return b.String()
}

// trimSections keeps only the newest max sections (a section starts at each
// "## " header), dropping the oldest when the ledger grows past the cap.
func trimSections(content string, max int) string {
	idx := sectionHeaderRe.FindAllStringIndex(content, -1)
	if len(idx) <= max {
		return content
	}
	cut := idx[len(idx)-max][0]
	return content[cut:]
}
