// Package internal holds opaque token helpers shared by the engine.
//
// Sub-packages:
//
//   - audit: async event dispatch
//   - rate: fixed-window limiter backends
//   - config, logging, server, stores, httpapi: the authd service shell
package internal
