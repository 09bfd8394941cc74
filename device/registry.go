package device

import (
	"sort"
	"sync"

	"opcbridge/usb"
)

// Registration describes one hardware family. Families self-register
// from their package init() functions.
type Registration struct {
	// Name is the family name, for logging.
	Name string
	// Priority orders the pre-open probe sequence; lower probes first.
	// Order matters when families are indistinguishable before the
	// post-open probe.
	Priority int
	// Probe is the cheap pre-open family check.
	Probe func(usb.Handle) bool
	// New constructs a Device for a handle Probe accepted.
	New func(usb.Handle, Options) Device
}

var (
	familiesMu sync.Mutex
	families   []Registration
)

// Register adds a family to the registry.
func Register(r Registration) {
	familiesMu.Lock()
	defer familiesMu.Unlock()
	families = append(families, r)
	sort.SliceStable(families, func(i, j int) bool {
		return families[i].Priority < families[j].Priority
	})
}

// Families returns all registered families in probe order.
func Families() []Registration {
	familiesMu.Lock()
	defer familiesMu.Unlock()
	out := make([]Registration, len(families))
	copy(out, families)
	return out
}
