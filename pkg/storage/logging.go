package storage

import (
	"fmt"
	"strings"

	"github.com/mandelsoft/logging"
)

var REALM = logging.DefineRealm("proximity/storage", "object/link graph store")

var log = logging.DynamicLogger(logging.DefaultContext(), REALM)

// badgerLogger forwards BadgerDB's printf-style output to the storage realm.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{}) {
	log.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (badgerLogger) Warningf(format string, args ...interface{}) {
	log.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (badgerLogger) Infof(format string, args ...interface{}) {
	log.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (badgerLogger) Debugf(format string, args ...interface{}) {
	log.Trace(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
