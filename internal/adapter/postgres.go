package adapter

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq"
)

// PostgresAdapter PostgreSQL 适配器
type PostgresAdapter struct {
	db     *sql.DB
	schema string
}

// NewPostgresAdapter 创建 PostgreSQL 适配器
func NewPostgresAdapter(db *sql.DB, schema string) *PostgresAdapter {
	return &PostgresAdapter{db: db, schema: schema}
}

// IntrospectSchema 获取元数据
func (a *PostgresAdapter) IntrospectSchema(ctx context.Context) (*SchemaMetadata, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		ORDER BY table_name
	`, a.schema)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []Table
	for rows.Next() {
		t := Table{Schema: a.schema}
		if err := rows.Scan(&t.Name); err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return introspect(ctx, tables, a.getColumns)
}

func (a *PostgresAdapter) getColumns(ctx context.Context, t Table) ([]Column, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT
			c.column_name,
			c.data_type,
			c.is_nullable = 'YES',
			EXISTS (
				SELECT 1
				FROM information_schema.table_constraints tc
				JOIN information_schema.key_column_usage ku
					ON tc.constraint_name = ku.constraint_name
					AND tc.table_schema = ku.table_schema
				WHERE tc.constraint_type = 'PRIMARY KEY'
					AND tc.table_schema = c.table_schema
					AND tc.table_name = c.table_name
					AND ku.column_name = c.column_name
			)
		FROM information_schema.columns c
		WHERE c.table_schema = $1 AND c.table_name = $2
		ORDER BY c.ordinal_position
	`, a.schema, t.Name)
	if err != nil {
		return nil, err
	}
	return scanColumns(rows)
}

// GetForeignKeys 获取外键约束
func (a *PostgresAdapter) GetForeignKeys(ctx context.Context) ([]ForeignKey, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT kcu.table_name, kcu.column_name, ccu.table_name, ccu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
			ON ccu.constraint_name = tc.constraint_name
			AND ccu.table_schema = tc.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_schema = $1
	`, a.schema)
	if err != nil {
		return nil, err
	}
	return scanForeignKeys(rows)
}

// Close 关闭连接
func (a *PostgresAdapter) Close() error {
	return a.db.Close()
}
