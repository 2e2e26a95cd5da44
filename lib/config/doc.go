// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads spool configuration.
//
// Configuration comes from a single file named by either the
// SPOOL_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There is no discovery and no search path. Files
// ending in .json or .jsonc are read as JSON with comments; anything
// else is YAML.
//
// The file may contain development, staging and production sections.
// The section matching [Config].Environment is decoded over the base
// values, so it only needs the fields it changes.
//
// Byte sizes accept human-readable strings ("512KiB", "4 MB") and
// durations use Go syntax ("18h", "500ms"). ${HOME}, ${SPOOL_ROOT}
// and ${VAR:-default} are expanded in path fields after loading.
package config
