package config

// Set via -ldflags, for example:
//
//	go build -ldflags "-X hookrouter/internal/config.version=1.2.3 \
//	    -X hookrouter/internal/config.commit=$(git rev-parse --short HEAD)"
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// NewBuildInfo returns the linker-injected build metadata.
func NewBuildInfo() BuildInfo {
	return BuildInfo{Version: version, Commit: commit, BuildTime: buildTime}
}
