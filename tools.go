//go:build tools

// Development tool dependencies, pinned in go.sum.
// Install with: make install-tools
package tools

import (
	_ "github.com/golangci/golangci-lint/cmd/golangci-lint"
)
