// Package core is the orchestration layer.  It ties the listener, the
// per-connection sessions, the timestamp task and the shared log
// together under one shutdown discipline.
//
// Architecture layers (bottom → top):
//
//	sharedlog  →  session / timer  →  core  →  cmd (CLI)
//
// Data flows Listener → Dispatcher → Session (many) → SharedLog, with
// the timestamp task writing to the same log.  Server supervises all
// of it and is the only component that releases the log.
package core
