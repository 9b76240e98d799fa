package qgraph

import (
	"github.com/mandelsoft/logging"
)

var REALM = logging.DefineRealm("proximity/qgraph", "subgraph pattern matching")

var log = logging.DynamicLogger(logging.DefaultContext(), REALM)
