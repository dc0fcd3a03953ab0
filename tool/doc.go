// Package tool provides the external collaborators used by the prebuilt RAG
// workflows.
//
// # Web Search
//
// BraveSearch queries the Brave Search API and returns langchaingo documents
// with markup stripped from titles and snippets:
//
//	search, err := tool.NewBraveSearch("", tool.WithBraveCount(3))
//	if err != nil {
//		return err
//	}
//	docs, err := search.Search(ctx, "latest Go release")
//
// It satisfies prebuilt.WebSearcher, and Call returns the same results as
// plain text for agents that expect a string tool.
//
// # SQL
//
// SQLDB wraps a SQLite *sql.DB for text-to-SQL pipelines. It reports the
// table definitions, validates that a generated query is a single read-only
// statement, and renders query results as a pipe-separated table:
//
//	db, _ := sql.Open("sqlite3", "shop.db")
//	sqldb := tool.NewSQLDB(db, 50)
//	info, _ := sqldb.TableInfo(ctx)
//	result, err := sqldb.Execute(ctx, "SELECT name FROM customers")
package tool
