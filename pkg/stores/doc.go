// Package stores provides the persistence layer for the provisioner.
// It includes SQLite-based storage with WAL mode, connection pooling,
// embedded migrations, and CRUD operations for environments and their
// resources.
package stores
