// Package module holds the static and live halves of a managed module graph.
//
// A Record is the static definition of one module: its factory, the map from
// import strings to resolved ids, and metadata carrying a content hash. A
// Module is the live cache entry produced by invoking that factory. The Store
// and Cache types are plain tables owned by a single engine; they do no
// locking because every mutation happens on the engine's goroutine.
package module
