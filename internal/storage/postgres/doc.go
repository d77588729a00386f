// Package postgres implements the multi-tenant credential and token-binding
// stores on PostgreSQL using pgx connection pools. Schema changes are
// embedded goose migrations.
package postgres
