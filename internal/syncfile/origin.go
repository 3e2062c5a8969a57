package syncfile

import (
	"os"
	"sync"

	"github.com/denisbrodbeck/machineid"
)

var (
	originOnce sync.Once
	origin     string
)

// machineOrigin identifies this machine in the clear header without exposing
// the raw machine id.
func machineOrigin() string {
	originOnce.Do(func() {
		id, err := machineid.ProtectedID("syftcrypt")
		if err == nil {
			origin = id
			return
		}
		if host, err := os.Hostname(); err == nil && host != "" {
			origin = host
			return
		}
		origin = "unknown"
	})
	return origin
}
