package version

import (
	"fmt"
	"sync"
	"time"
)

// Version is stamped at build time with
// -ldflags "-X fleetconsole/internal/version.Version=v1.2.3".
var Version string

var versionOnce sync.Once

// Get returns the build version, or a dev-<unix> marker for unstamped builds.
func Get() string {
	versionOnce.Do(func() {
		if Version == "" {
			Version = fmt.Sprintf("dev-%d", time.Now().UTC().Unix())
		}
	})
	return Version
}

// UserAgent is sent on every request to the FleetUpdate server.
func UserAgent() string {
	return "fleetctl/" + Get()
}
