package hyperlight

import (
	"github.com/sirupsen/logrus"

	"github.com/hyperlight-dev/hyperlight-go/internal/hvlog"
)

// componentLogger returns an Entry for component, deriving from base (or
// internal/hvlog.New() if base is nil) and tagging it with correlationID.
func componentLogger(base *logrus.Logger, correlationID, component string) *logrus.Entry {
	if base == nil {
		base = hvlog.New()
	}
	return hvlog.Component(base, correlationID, component)
}
