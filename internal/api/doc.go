// Package api implements the HTTP REST API and WebSocket server of the
// HAP bridge.
//
// This package provides:
//   - REST endpoints for accessories, characteristic reads and writes,
//     device mappings and diagnostics
//   - WebSocket hub streaming characteristic changes and mapping events
//   - JWT bearer authentication (HS256)
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//   - TLS support for production deployments
//
// # Architecture
//
// The API server sits in front of the bridge. Characteristic reads and
// writes go through the accessory's read and write handlers, exactly as a
// protocol controller would drive them, so the State Manager, validators
// and debouncing all apply. The bridge pushes every characteristic change
// into the Hub, which forwards it to subscribed WebSocket clients.
//
// # Security
//
// When security.jwt.secret is set every route except /api/v1/health
// requires "Authorization: Bearer <token>". WebSocket clients that cannot
// set headers pass the token as the "token" query parameter. Without a
// secret the API is open, which is intended for development only.
//
// # Graceful Degradation
//
// The server runs without MQTT. Static devices still map and serve reads,
// writes and WebSocket events.
package api
