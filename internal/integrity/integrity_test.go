package integrity

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractPortsExcludesReservedFramingRange(t *testing.T) {
	f := Extract("service listens on 8080 and 2025 and 80", Options{})
	require.Contains(t, f.Ports, "8080")
	require.NotContains(t, f.Ports, "2025")
	require.NotContains(t, f.Ports, "80")
}

func TestExtractContainersSkipsStopwords(t *testing.T) {
	f := Extract("container: postgres-main\nthe service: the\nstack: loki-stack", Options{})
	require.Contains(t, f.Containers, "postgres-main")
	require.Contains(t, f.Containers, "loki-stack")
	require.NotContains(t, f.Containers, "the")
}

func TestExtractIPsAndDomains(t *testing.T) {
	opts := Options{AllowedDomainRoots: []string{"internal.net"}}
	f := Extract("reachable at 10.0.0.5 and https://db.internal.net/status and example.com", opts)
	require.Contains(t, f.IPs, "10.0.0.5")
	require.Contains(t, f.Domains, "db.internal.net")
	require.NotContains(t, f.Domains, "example.com")
}

func TestCheckSeverityHighOnDroppedIP(t *testing.T) {
	pre := "database at 10.0.0.5 is primary"
	post := "database is primary"
	_, sev := Check(pre, post, Options{})
	require.Equal(t, SeverityHigh, sev)
}

func TestCheckSeverityNoneWhenNothingDropped(t *testing.T) {
	pre := "container: postgres-main on 8080"
	post := "container: postgres-main still on 8080, now with replicas"
	_, sev := Check(pre, post, Options{})
	require.Equal(t, SeverityNone, sev)
}

func TestCheckSeverityLowWhenOnlyProjectDropped(t *testing.T) {
	pre := "project: atlas is stable"
	post := "everything is stable"
	diff, sev := Check(pre, post, Options{})
	require.Equal(t, SeverityLow, sev)
	require.Contains(t, diff.Projects, "atlas")
}

func TestLoadKnownFactsIsReferenceOnly(t *testing.T) {
	facts := LoadKnownFacts("- project: atlas\n- ip: 10.0.0.9\n")
	require.Equal(t, []string{"atlas"}, facts["project"])
	require.Equal(t, []string{"10.0.0.9"}, facts["ip"])
}
