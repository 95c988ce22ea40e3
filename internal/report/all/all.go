// Package all wires all built-in report sinks into the report factory.
//
// This package exists purely for side effects: importing it (even as a blank
// import) causes the init functions of each concrete sink to run, which in
// turn register their factories with the report package.
//
// In other words, importing this package makes the following destination
// schemes available at runtime:
//
//   - "sqlite"                   (traceunify/internal/report/sqlite)
//   - "postgres", "postgresql"   (traceunify/internal/report/postgres)
//
// If a binary should support only a subset of sinks, import the required
// backends directly instead of this package.
package all

import (
	_ "traceunify/internal/report/postgres"
	_ "traceunify/internal/report/sqlite"
)
