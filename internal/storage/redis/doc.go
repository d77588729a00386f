// Package redis implements the multi-tenant credential and binding stores
// on Redis. Each record is a JSON document under a configurable key prefix.
package redis
