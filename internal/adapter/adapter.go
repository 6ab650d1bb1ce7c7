// Package adapter 关系数据源：一次性连接句柄与结构元数据
package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Dialect 数据库方言
type Dialect string

const (
	MySQL     Dialect = "mysql"
	Postgres  Dialect = "postgres"
	SQLServer Dialect = "sqlserver"
	SQLite    Dialect = "sqlite"
)

// ParseDialect 解析命令行/配置中的数据库类型
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(s) {
	case "mysql":
		return MySQL, nil
	case "postgres", "postgresql", "pg":
		return Postgres, nil
	case "sqlserver", "mssql":
		return SQLServer, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	}
	return "", fmt.Errorf("unsupported database type: %s", s)
}

// DriverName database/sql 注册的驱动名
func (d Dialect) DriverName() string {
	return string(d)
}

// QuoteIdent 按方言引用标识符
func (d Dialect) QuoteIdent(s string) string {
	switch d {
	case MySQL:
		return "`" + strings.ReplaceAll(s, "`", "``") + "`"
	case SQLServer:
		return "[" + strings.ReplaceAll(s, "]", "]]") + "]"
	default:
		return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
	}
}

// SelectQuery 构造只带列投影的 SELECT
func (d Dialect) SelectQuery(table string, columns []string) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = d.QuoteIdent(c)
	}
	return fmt.Sprintf("SELECT %s FROM %s", strings.Join(quoted, ", "), d.QuoteIdent(table))
}

// CountQuery 统计整表行数
func (d Dialect) CountQuery(table string) string {
	return "SELECT COUNT(*) FROM " + d.QuoteIdent(table)
}

// DBAdapter 结构元数据读取接口
type DBAdapter interface {
	// IntrospectSchema 获取表和列
	IntrospectSchema(ctx context.Context) (*SchemaMetadata, error)

	// GetForeignKeys 获取外键约束
	GetForeignKeys(ctx context.Context) ([]ForeignKey, error)

	// Close 关闭连接
	Close() error
}

// SchemaMetadata 元数据
type SchemaMetadata struct {
	Tables []Table
}

// Table 按名称查找表（忽略大小写）
func (m *SchemaMetadata) Table(name string) (*Table, bool) {
	for i := range m.Tables {
		if strings.EqualFold(m.Tables[i].Name, name) {
			return &m.Tables[i], true
		}
	}
	return nil, false
}

// TableNames 所有表名
func (m *SchemaMetadata) TableNames() []string {
	names := make([]string, len(m.Tables))
	for i, t := range m.Tables {
		names[i] = t.Name
	}
	return names
}

// Table 表信息
type Table struct {
	Schema  string
	Name    string
	Columns []Column
}

// Column 按名称查找列（忽略大小写）
func (t *Table) Column(name string) (*Column, bool) {
	for i := range t.Columns {
		if strings.EqualFold(t.Columns[i].Name, name) {
			return &t.Columns[i], true
		}
	}
	return nil, false
}

// ColumnNames 所有列名
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// PrimaryKeys 主键列
func (t *Table) PrimaryKeys() []string {
	var keys []string
	for _, c := range t.Columns {
		if c.IsPrimaryKey {
			keys = append(keys, c.Name)
		}
	}
	return keys
}

// Column 列信息
type Column struct {
	Name         string
	DataType     string
	Nullable     bool
	IsPrimaryKey bool
}

// ForeignKey 外键
type ForeignKey struct {
	FromTable  string
	FromColumn string
	ToTable    string
	ToColumn   string
}

// Open 打开元数据适配器，schema 对 MySQL 必填，对 PostgreSQL 默认 public
func Open(ctx context.Context, d Dialect, dsn, schema string) (DBAdapter, error) {
	db, err := sql.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	switch d {
	case MySQL:
		if schema == "" {
			db.Close()
			return nil, fmt.Errorf("mysql introspection needs a schema")
		}
		return NewMySQLAdapter(db, schema), nil
	case Postgres:
		if schema == "" {
			schema = "public"
		}
		return NewPostgresAdapter(db, schema), nil
	case SQLServer:
		return NewSQLServerAdapter(db), nil
	case SQLite:
		return NewSQLiteAdapter(db), nil
	}
	db.Close()
	return nil, fmt.Errorf("unsupported database type: %s", d)
}

// introspect 表 -> 列的通用流程
func introspect(ctx context.Context, tables []Table, columns func(ctx context.Context, t Table) ([]Column, error)) (*SchemaMetadata, error) {
	for i := range tables {
		cols, err := columns(ctx, tables[i])
		if err != nil {
			return nil, fmt.Errorf("columns of %s: %w", tables[i].Name, err)
		}
		tables[i].Columns = cols
	}
	return &SchemaMetadata{Tables: tables}, nil
}

func scanColumns(rows *sql.Rows) ([]Column, error) {
	defer rows.Close()
	var columns []Column
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Name, &c.DataType, &c.Nullable, &c.IsPrimaryKey); err != nil {
			return nil, err
		}
		columns = append(columns, c)
	}
	return columns, rows.Err()
}

func scanForeignKeys(rows *sql.Rows) ([]ForeignKey, error) {
	defer rows.Close()
	var fks []ForeignKey
	for rows.Next() {
		var fk ForeignKey
		if err := rows.Scan(&fk.FromTable, &fk.FromColumn, &fk.ToTable, &fk.ToColumn); err != nil {
			return nil, err
		}
		fks = append(fks, fk)
	}
	return fks, rows.Err()
}
