// Package integrity implements the integrity checker C7: deterministic,
// regex-based extraction of infrastructure facts from text and the set
// difference between a pre- and post-compression document. No model calls
// are made here. See spec.md §4.7.
package integrity

import (
	"bufio"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Severity is the checker's own verdict scale, distinct from the advisory
// Severity type since this one has no "critical" tier (spec.md §4.7).
type Severity string

const (
	SeverityNone   Severity = "none"
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// DefaultAllowedDomainRoots are the four configurable roots bare hostnames
// and URLs are matched against by default.
var DefaultAllowedDomainRoots = []string{"internal.net", "svc.local", "corp.example", "lan"}

// DefaultKnownProjects is the configurable hard-coded list of recognized
// project names for the projects extraction rule.
var DefaultKnownProjects = []string{}

var portPairRe = regexp.MustCompile(`\b(\d{2,5})(?::\d{2,5})?\b`)

var containerRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bcontainer:\s*([a-z][a-z0-9_-]+)`),
	regexp.MustCompile(`(?i)\b(?:docker|container)\s+(?:name\s+)?([a-z][a-z0-9_-]+)`),
	regexp.MustCompile(`(?i)\b(?:service|stack):\s*([a-z][a-z0-9_-]+)`),
}

var projectRe = regexp.MustCompile(`(?i)\b(?:project|system|platform):\s*([a-zA-Z][a-zA-Z0-9_-]+)`)

var ipRe = regexp.MustCompile(`\b(\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})\b`)

var urlHostRe = regexp.MustCompile(`(?i)https?://([a-z0-9.-]+)`)
var bareHostRe = regexp.MustCompile(`(?i)\b([a-z0-9][a-z0-9.-]*\.[a-z0-9-]+)\b`)

// containerStopwords excludes ~50 generic infrastructure words that regularly
// appear adjacent to "container"/"service"/"stack" without naming one.
var containerStopwords = map[string]struct{}{}

func init() {
	for _, w := range []string{
		"the", "a", "an", "port", "ports", "service", "services", "image",
		"images", "active", "running", "stopped", "name", "names", "is",
		"are", "was", "were", "for", "with", "and", "or", "not", "new",
		"old", "current", "previous", "default", "main", "primary",
		"secondary", "instance", "instances", "node", "nodes", "host",
		"hosts", "server", "servers", "app", "application", "config",
		"configuration", "env", "environment", "stack", "stacks",
		"container", "containers", "docker", "compose", "deployment",
		"deploy", "build", "builds", "process", "processes",
	} {
		containerStopwords[w] = struct{}{}
	}
}

// Facts is the six (per spec.md wording; five enumerated) named extraction
// categories as sets.
type Facts struct {
	Ports      map[string]struct{}
	Containers map[string]struct{}
	Domains    map[string]struct{}
	IPs        map[string]struct{}
	Projects   map[string]struct{}
}

func newFacts() Facts {
	return Facts{
		Ports:      map[string]struct{}{},
		Containers: map[string]struct{}{},
		Domains:    map[string]struct{}{},
		IPs:        map[string]struct{}{},
		Projects:   map[string]struct{}{},
	}
}

// Options configures domain-root and known-project extraction. A nil value
// for either field falls back to the package defaults.
type Options struct {
	AllowedDomainRoots []string
	KnownProjects      []string
}

func (o Options) domainRoots() []string {
	if len(o.AllowedDomainRoots) > 0 {
		return o.AllowedDomainRoots
	}
	return DefaultAllowedDomainRoots
}

func (o Options) knownProjects() []string {
	if len(o.KnownProjects) > 0 {
		return o.KnownProjects
	}
	return DefaultKnownProjects
}

// Extract pulls the five fact categories out of text.
func Extract(text string, opts Options) Facts {
	f := newFacts()
	extractPorts(text, f.Ports)
	extractContainers(text, f.Containers)
	extractDomains(text, opts.domainRoots(), f.Domains)
	extractIPs(text, f.IPs)
	extractProjects(text, opts.knownProjects(), f.Projects)
	return f
}

func extractPorts(text string, out map[string]struct{}) {
	for _, m := range portPairRe.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if n < 1024 || n > 65535 {
			continue
		}
		if n >= 2020 && n <= 2035 {
			continue
		}
		out[m[1]] = struct{}{}
	}
}

func extractContainers(text string, out map[string]struct{}) {
	for _, re := range containerRes {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			name := strings.ToLower(m[1])
			if len(name) <= 2 {
				continue
			}
			if _, stop := containerStopwords[name]; stop {
				continue
			}
			out[name] = struct{}{}
		}
	}
}

func extractDomains(text string, roots []string, out map[string]struct{}) {
	candidates := map[string]struct{}{}
	for _, m := range urlHostRe.FindAllStringSubmatch(text, -1) {
		candidates[strings.ToLower(m[1])] = struct{}{}
	}
	for _, m := range bareHostRe.FindAllStringSubmatch(text, -1) {
		candidates[strings.ToLower(m[1])] = struct{}{}
	}
	for host := range candidates {
		host = strings.TrimSuffix(host, "/")
		for _, root := range roots {
			if host == root || strings.HasSuffix(host, "."+root) {
				out[host] = struct{}{}
				break
			}
		}
	}
}

func extractIPs(text string, out map[string]struct{}) {
	for _, m := range ipRe.FindAllString(text, -1) {
		out[m] = struct{}{}
	}
}

func extractProjects(text string, known []string, out map[string]struct{}) {
	for _, m := range projectRe.FindAllStringSubmatch(text, -1) {
		out[strings.ToLower(m[1])] = struct{}{}
	}
	lower := strings.ToLower(text)
	for _, p := range known {
		if strings.Contains(lower, strings.ToLower(p)) {
			out[strings.ToLower(p)] = struct{}{}
		}
	}
}

// Diff is the set of dropped facts per category (pre - post).
type Diff struct {
	Ports      []string
	Containers []string
	Domains    []string
	IPs        []string
	Projects   []string
}

func setDiff(pre, post map[string]struct{}) []string {
	var out []string
	for k := range pre {
		if _, ok := post[k]; !ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Check computes the dropped-facts diff between preText and postText and
// derives its severity.
func Check(preText, postText string, opts Options) (Diff, Severity) {
	pre := Extract(preText, opts)
	post := Extract(postText, opts)
	diff := Diff{
		Ports:      setDiff(pre.Ports, post.Ports),
		Containers: setDiff(pre.Containers, post.Containers),
		Domains:    setDiff(pre.Domains, post.Domains),
		IPs:        setDiff(pre.IPs, post.IPs),
		Projects:   setDiff(pre.Projects, post.Projects),
	}
	return diff, severityOf(diff)
}

func severityOf(d Diff) Severity {
	if len(d.IPs) > 0 || len(d.Ports) >= 3 || len(d.Containers) >= 3 {
		return SeverityHigh
	}
	if len(d.Ports) > 0 || len(d.Containers) > 0 || len(d.Domains) > 0 {
		return SeverityMedium
	}
	if len(d.Projects) > 0 {
		return SeverityLow
	}
	return SeverityNone
}

// LoadKnownFacts parses a reference markdown ledger of known infrastructure
// facts (one bullet per line, "category: value" shape). It is reference
// only: callers must never union its output into a pre-text extraction set,
// since that would fabricate drops for facts that never appeared live.
func LoadKnownFacts(markdown string) map[string][]string {
	out := map[string][]string{}
	scanner := bufio.NewScanner(strings.NewReader(markdown))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		line = strings.TrimPrefix(line, "-")
		line = strings.TrimPrefix(line, "*")
		line = strings.TrimSpace(line)
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		category := strings.ToLower(strings.TrimSpace(parts[0]))
		value := strings.TrimSpace(parts[1])
		if category == "" || value == "" {
			continue
		}
		out[category] = append(out[category], value)
	}
	return out
}
