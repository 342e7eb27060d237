// Package version holds build-time version information for the asksudo binary.
// The variables in this package are populated at build time via -ldflags:
//
//	go build -ldflags="-X github.com/54b3r/asksudo-go/internal/version.Version=v1.2.3 \
//	                    -X github.com/54b3r/asksudo-go/internal/version.Commit=abc1234 \
//	                    -X github.com/54b3r/asksudo-go/internal/version.BuildDate=2026-01-01"
//
// Without ldflags (e.g. `go run`) the values fall back to readable defaults.
package version

import "fmt"

// Version is the semantic version of the binary. Defaults to "dev".
var Version = "dev"

// Commit is the short git SHA the binary was built from.
var Commit = "unknown"

// BuildDate is the UTC build date (RFC3339).
var BuildDate = "unknown"

// String renders all three values on one line.
func String() string {
	return fmt.Sprintf("asksudo %s (commit %s, built %s)", Version, Commit, BuildDate)
}

// UserAgent is the User-Agent sent on outbound requests.
func UserAgent() string {
	return "asksudo/" + Version
}
