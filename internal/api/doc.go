// Package api provides the HTTP REST API for the UPB bridge.
//
// It exposes health, metrics and event history endpoints for
// monitoring tooling and user interfaces. Commands travel over MQTT,
// not HTTP; the API is a read-only surface.
//
// The server follows the same lifecycle pattern as the other
// infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
