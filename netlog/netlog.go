// Package netlog is the structured logging wrapper every netcore subsystem
// takes as a constructor argument instead of reaching for a package-level
// logger.
package netlog

import (
	"os"

	"github.com/inconshreveable/log15"
)

// Logger is the contextual logger handed to conn, stream, httpcache,
// zerortt and policy. It is never a package-level global: spec.md's
// "Global singletons" design note applies to logging the same way it
// applies to the cache and ticket store, so every constructor in this
// module takes one explicitly.
type Logger = log15.Logger

// New builds the root logger for a subsystem (e.g. "conn", "stream",
// "cache", "zerortt", "policy"). Call .New(ctx...) on the result to attach
// per-connection or per-request fields without mutating the parent.
func New(subsystem string) Logger {
	l := log15.New("subsystem", subsystem)
	l.SetHandler(log15.LvlFilterHandler(log15.LvlInfo, log15.StreamHandler(os.Stderr, log15.LogfmtFormat())))
	return l
}

// Discard returns a logger that drops everything, for tests and for
// embedders that wire their own sink in via SetHandler.
func Discard() Logger {
	l := log15.New()
	l.SetHandler(log15.DiscardHandler())
	return l
}
