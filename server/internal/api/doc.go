// Package api implements the HTTP REST API of forgewatch-server.
//
// New(opts) returns an http.Handler that serves:
//
//	GET   /api/v1/health                      service status and counts
//	GET   /api/v1/machines                    live machines with diagnostics
//	GET   /api/v1/machines/{id}               one machine; 404 if unknown
//	GET   /api/v1/machines/{id}/history       rolling chart window, oldest first
//	POST  /api/v1/machines/{id}/data          ingest one reading            (key)
//	POST  /api/v1/data/push                   ingest {machineId: reading}   (key)
//	GET   /api/v1/alerts                      active alerts
//	GET   /api/v1/alerts/history              alert history, newest first
//	POST  /api/v1/alerts/{id}/acknowledge     404 unless active             (key)
//	POST  /api/v1/alerts/{id}/resolve         404 unless active             (key)
//	POST  /api/v1/alerts/{id}/dismiss                                       (key)
//	POST  /api/v1/alerts/clear                                              (key)
//	GET   /api/v1/logbook?limit=N             events, newest first
//	GET   /api/v1/workpieces?limit=N          workpieces, newest first
//	GET   /api/v1/thresholds
//	PATCH /api/v1/thresholds                  shallow merge                 (key)
//	GET   /api/v1/readings/{id}?limit=N       persisted readings, oldest first
//	GET   /api/v1/readings/{id}/latest        last persisted reading; 404 if none
//
// Routes marked (key) pass through the API key middleware when one is
// configured. Errors are JSON bodies {"error": ..., "details": [...]}.
// Unsupported methods on a known path answer 405.
package api
