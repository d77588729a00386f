// Package server exposes the Sheets proxy over HTTP.
//
// ServerContext carries the credential lifecycle, the identity resolver and
// the auth gate shared by the REST routes and the MCP tools. HTTPServer
// mounts the public routes (health, tool listing, /fetch and the Google
// OAuth flow) and, behind the gate, the tool endpoints, the direct
// /spreadsheets routes and the streamable-http MCP endpoint.
//
// Every request passes through request ID, security header, metrics, per-IP
// rate limiting and body size middleware. Error responses are built from
// sanitized messages only; see package apierror.
package server
