// Package config loads and serves gantry's layered configuration.
//
// # Layers
//
// Higher layers override lower ones:
//
//	┌──────────────────────────────┐
//	│  6. --set key=value          │  ← highest priority
//	├──────────────────────────────┤
//	│  5. GANTRY_* environment     │
//	├──────────────────────────────┤
//	│  4. gantry.<profile>.toml    │
//	├──────────────────────────────┤
//	│  3. gantry.toml              │  ← or the file named by --config
//	├──────────────────────────────┤
//	│  2. user config.toml         │  ← $XDG_CONFIG_HOME/gantry/
//	├──────────────────────────────┤
//	│  1. built-in defaults        │  ← lowest priority
//	└──────────────────────────────┘
//
// Maps merge recursively, so a project file setting build.outDir keeps the
// other build.* keys from lower layers. Lists and scalars are replaced.
//
// # Access
//
//	store := config.New(config.WithWorkDir(dir), config.WithProfile("ci"))
//	if err := store.Load(ctx); err != nil { ... }
//	out, err := store.GetString("build.outDir")
//	origin := store.Which("build.outDir") // "project (gantry.toml)"
//
// A Store is safe for concurrent use and satisfies the configuration
// interface the task pipeline reads through.
package config
