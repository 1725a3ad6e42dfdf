// Package api implements the HTTP REST API for Butler.
//
// This package provides:
//   - REST endpoints for automation CRUD, enable/disable, and execution history
//   - Blueprint library endpoints, including stamping automations from blueprints
//   - Prometheus metrics at /api/v1/metrics and a JSON snapshot at /api/v1/system
//   - Middleware stack (request ID, logging, recovery, CORS, body size limit)
//
// # Architecture
//
// The API server sits between user interfaces and the automation engine.
// Writes flow through the Registry (validate, persist, cache) and are mirrored
// into the running Engine so changes take effect on the next scheduler pass.
// Reads come from the Registry cache; execution history comes from the
// Repository audit log.
//
// The server follows the same lifecycle pattern as other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// # Graceful Degradation
//
// The server operates without MQTT or a database handle — automation CRUD and
// blueprint operations still work, only the /system snapshot reports those
// subsystems as unavailable.
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
