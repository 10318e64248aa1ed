package version

import (
	"crypto/sha256"
	"fmt"
	"runtime/debug"
	"sync"
)

// Version is the current semantic version of semidx
const Version = "0.3.0"

// Set at build time with -ldflags "-X".
var (
	BuildDate = "development"
	GitCommit = "unknown"
)

// Info returns the short version string
func Info() string {
	return Version
}

// FullInfo returns version, commit and build date
func FullInfo() string {
	return "semidx " + Version + " (commit: " + GitCommit + ", built: " + BuildDate + ")"
}

var (
	buildID     string
	buildIDOnce sync.Once
)

// BuildID fingerprints the running binary. Clients compare it against the
// leader's /ping answer to notice a leader started from an older build.
func BuildID() string {
	buildIDOnce.Do(func() {
		buildID = computeBuildID()
	})
	return buildID
}

func computeBuildID() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return Version + "-" + GitCommit
	}

	h := sha256.New()
	for _, part := range []string{info.GoVersion, info.Main.Path, info.Main.Version} {
		h.Write([]byte(part))
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision", "vcs.modified", "vcs.time":
			h.Write([]byte(s.Key + "=" + s.Value))
		}
	}
	return fmt.Sprintf("%x", h.Sum(nil))[:16]
}
