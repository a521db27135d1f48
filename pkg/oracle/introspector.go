// SPDX-License-Identifier: Apache-2.0

package oracle

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"golang.org/x/mod/semver"
)

// partitionedTablesMinVersion is the first Postgres release that introduced
// partitioned tables (pg_class.relkind = 'p').
const partitionedTablesMinVersion = "v10.0.0"

// Introspector snapshots schema objects and per-table storage-file
// identifiers over a single dedicated session. It opens no transaction of
// its own and reads auto-committed, so two successive calls return
// consistent snapshots only as long as the schema itself is stable.
type Introspector struct {
	conn               *pgx.Conn
	includePartitioned bool
}

// NewIntrospector opens a new session to dsn and verifies it is live. It
// also determines, once, whether the server is new enough to report
// partitioned tables so that later catalog queries can gate their relkind
// filters accordingly.
func NewIntrospector(ctx context.Context, dsn string) (*Introspector, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, wrapErr(KindConnect, "creating introspector connection", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close(ctx)
		return nil, wrapErr(KindConnect, "pinging introspector connection", err)
	}

	includePartitioned, err := serverSupportsPartitionedTables(ctx, conn)
	if err != nil {
		conn.Close(ctx)
		return nil, err
	}

	return &Introspector{conn: conn, includePartitioned: includePartitioned}, nil
}

// serverSupportsPartitionedTables reports whether the server conn is
// connected to is new enough (PG10+) to have partitioned tables at all.
func serverSupportsPartitionedTables(ctx context.Context, conn *pgx.Conn) (bool, error) {
	var version string
	if err := conn.QueryRow(ctx, "SHOW server_version").Scan(&version); err != nil {
		return false, wrapErr(KindIntrospection, "reading server_version", err)
	}
	return semver.Compare("v"+semverMajorMinor(version)+".0", partitionedTablesMinVersion) >= 0, nil
}

// semverMajorMinor extracts the leading "major.minor" component from a
// Postgres version string such as "14.9 (Debian 14.9-1.pgdg120+1)".
func semverMajorMinor(version string) string {
	major, minor := 0, 0
	fmt.Sscanf(version, "%d.%d", &major, &minor)
	return fmt.Sprintf("%d.%d", major, minor)
}

// Close releases the Introspector's session.
func (in *Introspector) Close(ctx context.Context) error {
	return in.conn.Close(ctx)
}

// ListObjects returns all tables, columns, and indexes in the current
// schema and current database.
func (in *Introspector) ListObjects(ctx context.Context) ([]DBObject, error) {
	tables, err := in.listTables(ctx)
	if err != nil {
		return nil, err
	}
	columns, err := in.listColumns(ctx)
	if err != nil {
		return nil, err
	}
	indexes, err := in.listIndexes(ctx)
	if err != nil {
		return nil, err
	}

	objects := make([]DBObject, 0, len(tables)+len(columns)+len(indexes))
	for _, t := range tables {
		objects = append(objects, t)
	}
	for _, c := range columns {
		objects = append(objects, c)
	}
	for _, idx := range indexes {
		objects = append(objects, idx)
	}
	return objects, nil
}

// ListObjectFileNodes returns the current physical file identifier of every
// table in the current schema, keyed by the same TableObject that
// ListObjects produces. Tables without storage of their own (partitioned
// parents, whose pg_relation_filenode is NULL) have no entry.
func (in *Introspector) ListObjectFileNodes(ctx context.Context) (map[TableObject]FileNode, error) {
	rows, err := in.conn.Query(ctx, fmt.Sprintf(`
		SELECT c.relname, pg_relation_filenode(c.oid)::int
		FROM pg_class c
		JOIN pg_namespace n ON c.relnamespace = n.oid
		WHERE n.nspname = current_schema()
		  AND c.relkind IN (%s)
		  AND pg_relation_filenode(c.oid) IS NOT NULL
		ORDER BY c.relname`, in.tableRelkinds()))
	if err != nil {
		return nil, wrapErr(KindIntrospection, "listing table file nodes", err)
	}
	defer rows.Close()

	nodes := make(map[TableObject]FileNode)
	for rows.Next() {
		var name string
		var node int32
		if err := rows.Scan(&name, &node); err != nil {
			return nil, wrapErr(KindIntrospection, "decoding table file node row", err)
		}
		nodes[TableObject{Name: name}] = FileNode(node)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(KindIntrospection, "listing table file nodes", err)
	}
	return nodes, nil
}

// tableRelkinds returns the pg_class.relkind values this Introspector's
// server can have: ordinary tables always, plus partitioned tables on PG10+.
func (in *Introspector) tableRelkinds() string {
	if in.includePartitioned {
		return "'r', 'p'"
	}
	return "'r'"
}

// listTables uses pg_class to retrieve tables in the current schema,
// restricted by tableRelkinds to the relation kinds this server supports.
func (in *Introspector) listTables(ctx context.Context) ([]TableObject, error) {
	rows, err := in.conn.Query(ctx, fmt.Sprintf(`
		SELECT c.relname
		FROM pg_class c
		JOIN pg_namespace n ON c.relnamespace = n.oid
		WHERE n.nspname = current_schema()
		  AND c.relkind IN (%s)
		ORDER BY c.relname`, in.tableRelkinds()))
	if err != nil {
		return nil, wrapErr(KindIntrospection, "listing tables", err)
	}
	defer rows.Close()

	var tables []TableObject
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, wrapErr(KindIntrospection, "decoding table row", err)
		}
		tables = append(tables, TableObject{Name: name})
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(KindIntrospection, "listing tables", err)
	}
	return tables, nil
}

// listColumns uses information_schema.columns to retrieve columns in the
// current schema.
func (in *Introspector) listColumns(ctx context.Context) ([]ColumnObject, error) {
	rows, err := in.conn.Query(ctx, `
		SELECT table_name, column_name, data_type
		FROM information_schema.columns
		WHERE table_schema = current_schema()
		  AND table_catalog = current_database()
		ORDER BY table_name, column_name`)
	if err != nil {
		return nil, wrapErr(KindIntrospection, "listing columns", err)
	}
	defer rows.Close()

	var columns []ColumnObject
	for rows.Next() {
		var table, name, dataType string
		if err := rows.Scan(&table, &name, &dataType); err != nil {
			return nil, wrapErr(KindIntrospection, "decoding column row", err)
		}
		columns = append(columns, ColumnObject{
			Table:    TableObject{Name: table},
			Name:     name,
			DataType: dataType,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(KindIntrospection, "listing columns", err)
	}
	return columns, nil
}

// listIndexes uses pg_stat_all_indexes to retrieve indexes in the current
// schema.
func (in *Introspector) listIndexes(ctx context.Context) ([]IndexObject, error) {
	rows, err := in.conn.Query(ctx, `
		SELECT relname, indexrelname
		FROM pg_stat_all_indexes
		WHERE schemaname = current_schema()
		ORDER BY 1, 2`)
	if err != nil {
		return nil, wrapErr(KindIntrospection, "listing indexes", err)
	}
	defer rows.Close()

	var indexes []IndexObject
	for rows.Next() {
		var table, name string
		if err := rows.Scan(&table, &name); err != nil {
			return nil, wrapErr(KindIntrospection, "decoding index row", err)
		}
		indexes = append(indexes, IndexObject{Table: TableObject{Name: table}, Name: name})
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(KindIntrospection, "listing indexes", err)
	}
	return indexes, nil
}
