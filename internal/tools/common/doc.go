// Package common holds helpers shared by the MCP tool packages: the
// instrumentation wrapper, caller identity lookup and result rendering.
package common
