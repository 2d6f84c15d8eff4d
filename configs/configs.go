// Package configs ships the default provisioning profile with the binary.
package configs

import _ "embed"

// Bootstrap is the embedded default profile used when apply/verify/plan run
// without an explicit config file.
//
//go:embed bootstrap.yaml
var Bootstrap []byte
