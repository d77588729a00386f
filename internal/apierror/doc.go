// Package apierror defines the error taxonomy shared by the REST and MCP
// surfaces and the sanitizer that turns any error into a client-safe
// message and HTTP status.
//
// Full error detail is logged server side. Clients only ever see the output
// of Sanitize.
package apierror
