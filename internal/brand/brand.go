// Package brand provides centralized product constants so the appliance
// can be white-labeled without touching the rest of the tree.
package brand

const (
	// Name is the product name as shown to users.
	Name = "Warden"

	// Description is the one-line product description.
	Description = "network policy control plane"

	// BinaryName is the name of the installed binary.
	BinaryName = "warden"

	// ServiceName is the systemd/openrc service name.
	ServiceName = "wardend"

	// DefaultConfigDir is where the appliance configuration lives.
	DefaultConfigDir = "/etc/warden"

	// ConfigFileName is the main configuration file.
	ConfigFileName = "warden.hcl"

	// DefaultStateDir holds the persistent state database.
	DefaultStateDir = "/var/lib/warden"

	// StateFileName is the state database file.
	StateFileName = "state.db"
)

// Set at build time via -ldflags "-X grimm.is/warden/internal/brand.Version=...".
var (
	Version   = "dev"
	BuildTime = "unknown"
)
