// Package publish sends traced graphs to a socket.io endpoint so that an
// external viewer can display them while a model is being worked on.
//
// # Why Publish Package Exists
//
// A traced graph is usually inspected by printing it. Larger graphs are
// easier to read in a viewer that can fold, search and highlight nodes, and
// such viewers typically sit behind a socket.io server. This package turns a
// GraphModule into a JSON Document and emits it on one event, then waits for
// the server to acknowledge it.
//
// The connection is opened per Publish call and torn down afterwards. There
// is no retry: a failed publish is reported to the caller, who decides
// whether it matters.
package publish
