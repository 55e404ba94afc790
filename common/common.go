// Package common holds identifiers shared by the cipherpool services.
package common

// PackageName is the canonical service name used for metrics and logging.
const PackageName = "cipherpool"

// Version is set at build time via -ldflags.
var Version = "dev"
