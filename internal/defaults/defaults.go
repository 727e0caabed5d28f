// Package defaults provides embedded copies of the example configuration
// and seed task list for the taskmate init subcommand.
package defaults

import _ "embed"

// ConfigYAML is the example configuration file.
//
//go:embed config.example.yaml
var ConfigYAML []byte

// TasksJSON is a small seed task list for the file backend.
//
//go:embed tasks.example.json
var TasksJSON []byte
