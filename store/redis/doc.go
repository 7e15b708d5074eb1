// Package redis implements the job store on Redis for distributed
// deployments. Job records are stored as Hashes, queues as Sorted Sets
// popped with ZPOPMIN, result history as capped Lists, and frame blobs
// as expiring String keys. Revocations and live results ride Redis
// pub/sub channels.
//
// The caller owns the Redis client lifecycle:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
