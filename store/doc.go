// Package store defines how graph runs are persisted between steps.
//
// After every node execution the executor saves a Checkpoint: the thread id,
// a monotonically increasing step, the node that just ran, and a copy of the
// full state. A thread is the ordered list of its checkpoints, and the latest
// one is where a resumed run picks up.
//
// # Store Interface
//
//	type CheckpointStore interface {
//		Save(ctx context.Context, checkpoint *Checkpoint) error
//		LoadLatest(ctx context.Context, threadID string) (*Checkpoint, error)
//		Load(ctx context.Context, threadID string, step int) (*Checkpoint, error)
//		List(ctx context.Context, threadID string) ([]*Checkpoint, error)
//		Clear(ctx context.Context, threadID string) error
//	}
//
// Every implementation shares these rules:
//   - Save fails with ErrStepConflict unless the step is strictly greater
//     than every step already stored for the thread.
//   - LoadLatest and Load fail with ErrNotFound when nothing matches.
//   - List is ordered by ascending step and is empty for unknown threads.
//   - Returned checkpoints never alias stored data.
//
// The storetest package runs these rules against any implementation.
//
// # Backends
//
//   - memory: in-process, for tests and single runs
//   - file: one JSON file per step, written atomically
//   - sqlite: a local database file
//   - postgres: a shared PostgreSQL table
//   - redis: a sorted set plus hash per thread, with optional TTL
//
// Backends that serialize state store it as JSON, so numbers come back as
// float64 and typed slices as []any. Use graph.Get to read values back into
// concrete types.
package store
