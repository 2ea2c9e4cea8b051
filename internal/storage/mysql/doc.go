// Package mysql provides the MySQL-backed proposal store. It encapsulates
// schema migrations, connection pooling, and the queries that persist the
// multisig proposal lifecycle across process restarts.
package mysql
