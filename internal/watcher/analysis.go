package watcher

import (
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// ComposeService is the subset of a docker-compose service definition the
// detector reports: names, images, ports, networks, volume sources, and
// env-var names only (never values).
type ComposeService struct {
	Name     string
	Image    string
	Ports    []string
	Networks []string
	Volumes  []string
	EnvVars  []string
}

// ComposeChange describes a modified compose file and the services found in
// it after the change.
type ComposeChange struct {
	File     string
	Services []ComposeService
}

// CredentialFinding is a masked credential detection.
type CredentialFinding struct {
	File   string
	Masked string
}

// BatchResult is the outcome of analyzing one debounced batch of changes.
type BatchResult struct {
	ComposeChanges []ComposeChange
	Credentials    []CredentialFinding
	NewDirectories []string
	AffectedStacks []string
}

var composeFileNames = map[string]struct{}{
	"docker-compose.yml": {}, "docker-compose.yaml": {},
	"compose.yml": {}, "compose.yaml": {},
}

func isComposeFile(relPath string) bool {
	_, ok := composeFileNames[filepath.Base(relPath)]
	return ok
}

type composeFile struct {
	Services map[string]composeServiceYAML `yaml:"services"`
}

type composeServiceYAML struct {
	Image    string   `yaml:"image"`
	Ports    []string `yaml:"ports"`
	Networks []string `yaml:"networks"`
	Volumes  []string `yaml:"volumes"`
	Env      []string `yaml:"environment"`
}

func parseCompose(path string) ([]ComposeService, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cf composeFile
	if err := yaml.Unmarshal(raw, &cf); err == nil && len(cf.Services) > 0 {
		services := make([]ComposeService, 0, len(cf.Services))
		for name, svc := range cf.Services {
			services = append(services, ComposeService{
				Name:     name,
				Image:    svc.Image,
				Ports:    svc.Ports,
				Networks: svc.Networks,
				Volumes:  volumeSources(svc.Volumes),
				EnvVars:  envNames(svc.Env),
			})
		}
		return services, nil
	}
	return parseComposeFallback(string(raw)), nil
}

var serviceHeaderRe = regexp.MustCompile(`^  ([a-zA-Z0-9_.-]+):\s*$`)
var imageLineRe = regexp.MustCompile(`image:\s*(\S+)`)

// parseComposeFallback handles malformed YAML with a line-oriented regex scan,
// grouping lines under their nearest two-space-indented service header.
func parseComposeFallback(text string) []ComposeService {
	var services []ComposeService
	var current *ComposeService
	for _, line := range strings.Split(text, "\n") {
		if m := serviceHeaderRe.FindStringSubmatch(line); m != nil {
			services = append(services, ComposeService{Name: m[1]})
			current = &services[len(services)-1]
			continue
		}
		if current == nil {
			continue
		}
		if m := imageLineRe.FindStringSubmatch(line); m != nil {
			current.Image = m[1]
		}
	}
	return services
}

func volumeSources(volumes []string) []string {
	out := make([]string, 0, len(volumes))
	for _, v := range volumes {
		if idx := strings.Index(v, ":"); idx > 0 {
			out = append(out, v[:idx])
		} else {
			out = append(out, v)
		}
	}
	return out
}

func envNames(env []string) []string {
	out := make([]string, 0, len(env))
	for _, e := range env {
		if idx := strings.Index(e, "="); idx > 0 {
			out = append(out, e[:idx])
		} else {
			out = append(out, e)
		}
	}
	return out
}

// credentialPatterns is a closed list of regexes for secret-like assignments.
var credentialPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(password|passwd|pwd)\s*[:=]\s*['"]?([^'"\s]{3,})`),
	regexp.MustCompile(`(?i)(api[_-]?key)\s*[:=]\s*['"]?([A-Za-z0-9_\-\.]{6,})`),
	regexp.MustCompile(`(?i)(secret|token)\s*[:=]\s*['"]?([A-Za-z0-9_\-\.]{6,})`),
	regexp.MustCompile(`(?i)(aws_secret_access_key|aws_access_key_id)\s*[:=]\s*['"]?([A-Za-z0-9/+=]{10,})`),
	regexp.MustCompile(`://[^/\s:]+:([^@/\s]+)@`),
	regexp.MustCompile(`(?i)(ghp_|gho_|github_pat_|glpat-)[A-Za-z0-9_\-]{10,}`),
}

func mask(value string) string {
	if len(value) <= 8 {
		return "***"
	}
	return value[:4] + "..." + value[len(value)-4:]
}

// scanCredentials runs the closed pattern list over text, masking every
// captured value. Full-scan callers pass the whole file; diff-scan callers
// pass only the changed lines.
func scanCredentials(text string) []string {
	var found []string
	for _, line := range strings.Split(text, "\n") {
		for _, re := range credentialPatterns {
			m := re.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			value := m[len(m)-1]
			found = append(found, mask(value))
		}
	}
	return found
}

func isCredentialScanTarget(relPath string) bool {
	base := filepath.Base(relPath)
	lower := strings.ToLower(base)
	return strings.HasPrefix(lower, ".env") ||
		strings.HasPrefix(lower, "secrets.") ||
		strings.HasPrefix(lower, "credentials.")
}

func isTextLike(relPath string) bool {
	ext := strings.ToLower(filepath.Ext(relPath))
	switch ext {
	case ".png", ".jpg", ".jpeg", ".gif", ".pdf", ".zip", ".tar", ".gz", ".bin":
		return false
	}
	return true
}

// analyzeBatch inspects the changed paths: compose files, credential
// patterns, and brand-new top-level service directories.
func (w *Watcher) analyzeBatch(paths []string) BatchResult {
	var result BatchResult
	stacks := map[string]struct{}{}

	for _, rel := range paths {
		abs := filepath.Join(w.root, rel)

		if isComposeFile(rel) {
			services, err := parseCompose(abs)
			if err == nil {
				result.ComposeChanges = append(result.ComposeChanges, ComposeChange{File: rel, Services: services})
				for _, svc := range services {
					stacks[svc.Name] = struct{}{}
				}
			}
		}

		if isTextLike(rel) {
			var scanText string
			if isCredentialScanTarget(rel) {
				raw, err := os.ReadFile(abs)
				if err == nil {
					scanText = string(raw)
				}
			} else {
				scanText = w.diffAddedLines(rel)
			}
			for _, masked := range scanCredentials(scanText) {
				result.Credentials = append(result.Credentials, CredentialFinding{File: rel, Masked: masked})
			}
		}
	}

	result.NewDirectories = w.detectNewDirectories(paths)
	for _, d := range result.NewDirectories {
		stacks[filepath.Base(d)] = struct{}{}
	}

	for name := range stacks {
		result.AffectedStacks = append(result.AffectedStacks, name)
	}
	return result
}

// detectNewDirectories flags a top-two-level path group as a new directory
// when its git history has at most one commit touching it, so a directory
// that has been around for a while but just received its first batched
// change in this flush isn't mistaken for brand new.
func (w *Watcher) detectNewDirectories(paths []string) []string {
	seen := map[string]struct{}{}
	var keys []string
	for _, p := range paths {
		parts := strings.SplitN(p, string(filepath.Separator), 3)
		if len(parts) < 2 {
			continue
		}
		key := filepath.Join(parts[0], parts[1])
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}

	var out []string
	for _, key := range keys {
		if w.commitDepth(key) <= 1 {
			out = append(out, key)
		}
	}
	return out
}

// commitDepth returns how many commits in the watched tree's git history
// touch relPath, capped at nothing (the caller only distinguishes 0/1 from
// more).
func (w *Watcher) commitDepth(relPath string) int {
	cmd := exec.Command("git", "-C", w.root, "log", "--oneline", "--", relPath)
	out, err := cmd.Output()
	if err != nil {
		return 0
	}
	trimmed := strings.TrimSpace(string(out))
	if trimmed == "" {
		return 0
	}
	return len(strings.Split(trimmed, "\n"))
}

func summarize(result BatchResult, paths []string) string {
	var parts []string
	if len(result.ComposeChanges) > 0 {
		parts = append(parts, "compose file(s) changed")
	}
	if len(result.NewDirectories) > 0 {
		parts = append(parts, "new service directory detected")
	}
	if len(result.Credentials) > 0 {
		parts = append(parts, "credential pattern detected")
	}
	if len(parts) == 0 {
		return "infrastructure change: " + strings.Join(paths, ", ")
	}
	return "infrastructure change: " + strings.Join(parts, "; ")
}
