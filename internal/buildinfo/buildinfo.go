// Package buildinfo stores build-time metadata shared across packages.
package buildinfo

// Version is set from ldflags in cmd/ocdiag.
var Version = "dev"

// UserAgent identifies ocdiag in HTTP requests.
func UserAgent() string {
	return "ocdiag/" + Version
}
