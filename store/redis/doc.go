// Package redis provides a Redis-backed checkpoint store.
//
// Every thread is kept under two keys:
//
//	<prefix>thread:<id>:steps  sorted set of step numbers
//	<prefix>thread:<id>:data   hash of step -> checkpoint JSON
//
// Saves run as a single Lua script, so the strictly-increasing step rule
// holds even when several processes write the same thread. With a TTL, both
// keys expire together TTL after the thread's last save.
//
// # Basic Usage
//
//	cps := redis.NewRedisCheckpointStore(redis.RedisOptions{
//		Addr:   "localhost:6379",
//		Prefix: "ragflow:",
//		TTL:    24 * time.Hour,
//	})
//
//	compiled, err := g.Compile(graph.WithCheckpointer(cps))
//
// An existing client (cluster, sentinel or a test server) can be wrapped:
//
//	cps := redis.NewFromClient(client, redis.WithTTL(time.Hour))
package redis
