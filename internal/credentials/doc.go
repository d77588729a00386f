// Package credentials defines the Google OAuth credential record, the Store
// contract every persistence backend implements, and the in-memory
// single-tenant backend.
//
// Multi-tenant backends live under internal/storage. All of them share the
// expiry rule in IsExpired and the optional at-rest Encryptor.
package credentials
