// Package sqlite provides a SQLite-backed checkpoint store.
//
// The store keeps one table keyed by (thread_id, step) and uses a single
// connection, so a local file (or ":memory:") is enough to persist threads
// across restarts of a single process.
//
//	cps, err := sqlite.NewSqliteCheckpointStore(sqlite.SqliteOptions{
//		Path: "./ragflow.db",
//	})
//	if err != nil {
//		return err
//	}
//	defer cps.Close()
//
//	compiled, err := g.Compile(graph.WithCheckpointer(cps))
package sqlite
