package transfer

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"

	"graph-migrator/internal/adapter"
	"graph-migrator/internal/catalog"
	"graph-migrator/internal/errs"
	"graph-migrator/internal/extract"
	"graph-migrator/internal/graph"

	"github.com/stretchr/testify/require"
)

const gamesCatalog = `
entities:
  - table: game
    columns: [game_id, name]
    label: Game
  - table: genre
    columns: [genre_id, name]
    label: Genre
  - table: genre_type
    columns: [genre_type_id, name]
    label: GenreType
  - table: company
    columns: [company_id, name]
    label: Company
relationships:
  - table: games_genres
    columns: [game_id, genre_id]
    source: Game
    target: Genre
    type: HAS_GENRE
  - table: games_companies
    columns: [game_id, company_id, type]
    source: Game
    target: Company
    types: [developer, publisher]
  - table: genre
    kind: foreign_key
    columns: [genre_id, genre_type_id]
    source: Genre
    target: GenreType
    type: IS_TYPE
`

var gamesSchema = []string{
	`CREATE TABLE game (game_id INTEGER PRIMARY KEY, name TEXT)`,
	`CREATE TABLE genre_type (genre_type_id INTEGER PRIMARY KEY, name TEXT)`,
	`CREATE TABLE genre (genre_id INTEGER PRIMARY KEY, name TEXT, genre_type_id INTEGER REFERENCES genre_type(genre_type_id))`,
	`CREATE TABLE company (company_id INTEGER PRIMARY KEY, name TEXT)`,
	`CREATE TABLE games_genres (game_id INTEGER, genre_id INTEGER)`,
	`CREATE TABLE games_companies (game_id INTEGER, company_id INTEGER, type TEXT)`,
	`INSERT INTO game VALUES (1, 'Doom'), (2, 'Quake')`,
	`INSERT INTO genre_type VALUES (1, 'Action')`,
	`INSERT INTO genre VALUES (7, 'Shooter', 1), (8, 'Puzzle', NULL)`,
	`INSERT INTO company VALUES (10, 'id Software'), (20, 'GT Interactive')`,
	`INSERT INTO games_genres VALUES (1, 7), (2, 7)`,
	`INSERT INTO games_companies VALUES (1, 10, 'developer'), (1, 20, 'publisher'), (2, 10, 'developer')`,
}

func mustCatalog(t *testing.T, yaml string) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.Parse([]byte(yaml))
	require.NoError(t, err)
	return cat
}

// sqliteSource 在临时文件中建库，返回数据源和一个用于修改数据的句柄
func sqliteSource(t *testing.T, stmts ...string) (*adapter.SQLSource, *sql.DB) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "games.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	for _, s := range stmts {
		_, err := db.Exec(s)
		require.NoError(t, err, s)
	}
	return adapter.NewSource(adapter.SQLite, path), db
}

// fakeTable 内存中的表
type fakeTable struct {
	columns []string
	rows    []extract.Row
}

// fakeFetcher 按列投影内存中的表；fail 可以让某张表的前几次读取失败
type fakeFetcher struct {
	mu     sync.Mutex
	tables map[string]fakeTable
	calls  map[string]int
	fail   map[string]func(call int) error
}

func newFakeFetcher(tables map[string]fakeTable) *fakeFetcher {
	return &fakeFetcher{tables: tables, calls: make(map[string]int), fail: make(map[string]func(int) error)}
}

func (f *fakeFetcher) FetchRows(ctx context.Context, table string, columns []string) ([]extract.Row, error) {
	f.mu.Lock()
	f.calls[table]++
	call := f.calls[table]
	hook := f.fail[table]
	t, ok := f.tables[table]
	f.mu.Unlock()

	if hook != nil {
		if err := hook(call); err != nil {
			return nil, err
		}
	}
	if !ok {
		return nil, errs.Errorf(errs.KindQuery, "fetch", table, "no such table")
	}

	idx := make([]int, len(columns))
	for j, c := range columns {
		idx[j] = -1
		for k, tc := range t.columns {
			if tc == c {
				idx[j] = k
			}
		}
		if idx[j] < 0 {
			return nil, errs.Errorf(errs.KindQuery, "fetch", table, "no such column: %s", c)
		}
	}
	out := make([]extract.Row, len(t.rows))
	for i, r := range t.rows {
		p := make(extract.Row, len(columns))
		for j, k := range idx {
			p[j] = r[k]
		}
		out[i] = p
	}
	return out, nil
}

func (f *fakeFetcher) callCount(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[table]
}

func gamesTables() map[string]fakeTable {
	return map[string]fakeTable{
		"game": {[]string{"game_id", "name"}, []extract.Row{
			{int64(1), "Doom"}, {int64(2), "Quake"},
		}},
		"genre_type": {[]string{"genre_type_id", "name"}, []extract.Row{
			{int64(1), "Action"},
		}},
		"genre": {[]string{"genre_id", "name", "genre_type_id"}, []extract.Row{
			{int64(7), "Shooter", int64(1)}, {int64(8), "Puzzle", nil},
		}},
		"company": {[]string{"company_id", "name"}, []extract.Row{
			{int64(10), "id Software"}, {int64(20), "GT Interactive"},
		}},
		"games_genres": {[]string{"game_id", "genre_id"}, []extract.Row{
			{int64(1), int64(7)}, {int64(2), int64(7)},
		}},
		"games_companies": {[]string{"game_id", "company_id", "type"}, []extract.Row{
			{int64(1), int64(10), "developer"}, {int64(1), int64(20), "publisher"}, {int64(2), int64(10), "developer"},
		}},
	}
}

// recordingSink 记录调用顺序，用于检查阶段屏障和批量合并
type recordingSink struct {
	*graph.MemoryGraph

	mu        sync.Mutex
	replaced  []string
	merges    []graph.EdgeBatch
	entities  int
	violation bool
}

func newRecordingSink(entities int) *recordingSink {
	return &recordingSink{MemoryGraph: graph.NewMemoryGraph(), entities: entities}
}

func (s *recordingSink) ReplaceNodes(ctx context.Context, label string, batch []graph.Properties) (int, error) {
	s.mu.Lock()
	if len(s.merges) > 0 {
		s.violation = true
	}
	s.mu.Unlock()
	n, err := s.MemoryGraph.ReplaceNodes(ctx, label, batch)
	s.mu.Lock()
	s.replaced = append(s.replaced, label)
	s.mu.Unlock()
	return n, err
}

func (s *recordingSink) MergeEdges(ctx context.Context, batch graph.EdgeBatch) (graph.MergeResult, error) {
	s.mu.Lock()
	if len(s.replaced) < s.entities {
		s.violation = true
	}
	s.merges = append(s.merges, batch)
	s.mu.Unlock()
	return s.MemoryGraph.MergeEdges(ctx, batch)
}

func (s *recordingSink) mergeCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.merges)
}
