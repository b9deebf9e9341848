// Package rampart provides the public API for embedding the admission
// gateway. This is the stable API for external consumers.
package rampart

import (
	"github.com/rampartlabs/rampart/internal/runtime"
)

// Gateway is the main entry point for running the admission gateway.
// See internal/runtime.Gateway for full documentation.
type Gateway = runtime.Gateway

// Option is a functional option for configuring a Gateway.
type Option = runtime.Option

// New creates a new Gateway with the given options.
// Example:
//
//	gw, err := rampart.New(
//	    rampart.WithFileConfig("config.yaml"),
//	    rampart.WithSQLite("./data/rampart.db"),
//	    rampart.WithHandler(apiRoutes),
//	)
var New = runtime.New

// Configuration options
var (
	WithFileConfig = runtime.WithFileConfig
	WithSQLite     = runtime.WithSQLite
	WithRedis      = runtime.WithRedis
	WithHandler    = runtime.WithHandler
	WithLogger     = runtime.WithLogger

	// Advanced options
	WithConfigProvider = runtime.WithConfigProvider
	WithEventPublisher = runtime.WithEventPublisher
	WithViolationStore = runtime.WithViolationStore
)
