// Package dag is a small string-keyed dependency graph used to analyse
// traced graphs: cycle detection for lint, ancestor sets for dead-code
// elimination and a deterministic topological order.
//
// Node IDs are the unique names of graph nodes. An edge from A to B means B
// consumes the value A produces.
package dag
