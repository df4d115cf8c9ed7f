// Package mysql provides repositories backed by MySQL for run history.
// It encapsulates schema migrations, connection pooling, and a file-backed
// in-memory fallback used when no database is configured.
package mysql
