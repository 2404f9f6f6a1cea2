// Package cli turns the command line of the opgraph binary into an
// app.Config. It owns the `trace` command's flags, their environment
// defaults, usage text and the exit codes of argument errors.
package cli
