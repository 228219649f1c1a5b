// ABOUTME: Build version information
// ABOUTME: Version is overridden at link time with -ldflags "-X ..."
package version

// Version is the release version
var Version = "0.1.0-dev"

// Product is the name announced to clients and over mDNS
const Product = "playd"

// String renders "playd 0.1.0"
func String() string {
	return Product + " " + Version
}
