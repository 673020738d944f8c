// Package api serves bootstrap status over HTTP.
//
// Routes:
//
//	GET /api/status    phase, membership and the last bootstrap result
//	GET /api/members   in-process members (local engine only)
//	GET /api/report    text report of the last run
//	GET /api/presets   configuration preset names
//	GET /metrics       Prometheus exposition
//	    /ws            WebSocket stream of bootstrap events and status
package api
