package version

// Set at build time via -ldflags, e.g.
// go build -ldflags "-X github.com/pysugar/workspace-nexus/internal/version.Version=v0.1.0"
var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

// String is "<version> (<commit>, built <time>)".
func String() string {
	return Version + " (" + Commit + ", built " + BuildTime + ")"
}
