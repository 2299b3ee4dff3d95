// Package hvlog wires the structured logging every component shares,
// replacing the teacher's vm.Debug-gated log.Printf calls (core_engine's
// vcpu.go, virtual_machine.go) with per-component logrus.Entry values
// carrying a correlation_id field throughout a Sandbox's lifetime.
package hvlog

import "github.com/sirupsen/logrus"

// New returns the base *logrus.Logger every Sandbox and standalone package
// test derives an Entry from. Level and formatter are fixed here so every
// component's output is consistent regardless of which one constructs it
// first.
func New() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// Component returns an Entry scoped to one sandbox component, carrying the
// correlation_id and component fields that every hyperlight.Error also
// records (spec.md §7).
func Component(base *logrus.Logger, correlationID, component string) *logrus.Entry {
	if base == nil {
		base = New()
	}
	return base.WithFields(logrus.Fields{
		"correlation_id": correlationID,
		"component":      component,
	})
}
