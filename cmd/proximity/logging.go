package main

import (
	"fmt"

	"github.com/mandelsoft/logging"
	"github.com/mandelsoft/logging/logrusl"
	"github.com/mandelsoft/logging/logrusr"
)

var REALM = logging.DefineRealm("proximity/cli", "command line tool")

var log = logging.DynamicLogger(logging.DefaultContext(), REALM)

// configureLogging routes every proximity realm through a human readable
// logrus sink at the given level.
func configureLogging(level string) error {
	l, err := logging.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q", level)
	}
	lctx := logging.DefaultContext()
	lctx.SetBaseLogger(logrusr.New(logrusl.Human(true).NewLogrus()))
	lctx.AddRule(logging.NewConditionRule(l, logging.NewRealmPrefix("proximity")))
	return nil
}
