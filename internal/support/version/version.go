// Package version holds build identity, normally stamped via -ldflags at
// build time. Version defaults to "dev" for local/unstamped builds.
package version

// Name is the service's display name, printed by the admin console's
// "version" command.
const Name = "order-messaging-automation"

// Version is overridden at build time via:
//
//	-ldflags "-X order-messaging-automation/internal/support/version.Version=1.2.3"
var Version = "dev"
