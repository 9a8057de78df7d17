// Package lsmlog wires a single logrus logger into every engine
// subsystem with a consistent "component" field, the way
// other_examples/04b88dc2_junyu-w-go-db-engine__db.go.go configures a
// package-level logrus logger around its own memtable/WAL/SSTable
// lifecycle events (SetOutput, SetLevel, then Infof/Warnf/Fatalf at each
// flush and WAL retirement).
package lsmlog

import (
	"io"

	"github.com/sirupsen/logrus"
)

// New returns a *logrus.Logger that discards output, suitable as a
// default for embedders who never configured one.
func New() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// Component scopes logger with a "component" field so log lines from the
// memtable, WAL, SSTable, flush, and compaction subsystems are
// distinguishable without each one reimplementing field plumbing.
func Component(logger *logrus.Logger, name string) *logrus.Entry {
	if logger == nil {
		logger = New()
	}
	return logger.WithField("component", name)
}
