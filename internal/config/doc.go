// Package config loads the assetstorm project configuration.
//
// Configuration is layered, higher layers overriding lower:
//
//	┌─────────────────────────────┐
//	│  3. Environment Variables   │  ← ASSETSTORM_* (highest)
//	├─────────────────────────────┤
//	│  2. Project File            │  ← assetstorm.yaml / assetstorm.toml
//	├─────────────────────────────┤
//	│  1. Built-in Defaults       │  ← ./assets sources, ./public outputs
//	└─────────────────────────────┘
//
// The merged map is decoded into a Config and validated. Relative paths
// in the result are resolved against the directory holding the config
// file. A Config is never modified after Load returns; a reload produces
// a new one.
//
// # Sub-packages
//
//   - loader: TOML, YAML and environment sources plus map merging
package config
