// Package app contains the core application logic. It loads a program file,
// traces it into a graph module and reports the result, decoupled from any
// specific entrypoint like a CLI.
package app
