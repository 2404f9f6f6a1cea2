// Package decomp holds decomposition tables: maps from an operator to a
// function that expresses it with other operators.
//
// # Why Decomp Package Exists
//
// A trace taken with a decomposition table never records the table's
// operators. Instead the replacement runs and each operator it calls is
// dispatched, and recorded, on its own. The active table is scoped to a
// context.Context, so it is back to the caller's table on every exit path.
//
// Core returns the built-in table. Replacements receive arguments already
// bound against the replaced operator's schema.
package decomp
