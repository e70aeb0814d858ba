// Package clog provides structured logging for the storage node using
// zerolog, with a handful of component tags the node actually has:
// chronicled, cataloglog, checkpointer, compactor, flusher.
package clog
