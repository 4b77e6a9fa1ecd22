// Package stores provides the SQLite persistence layer for mongocfg:
// render history, cached platform facts and an audit trail. Migrations are
// embedded and applied with golang-migrate.
package stores
