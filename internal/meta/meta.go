// Package meta holds build metadata for the gomsmcp binary.
package meta

// Version is overridden at build time with
// -ldflags "-X github.com/rickchristie/mssql-mcp/internal/meta.Version=v1.2.3".
var Version = "dev"
