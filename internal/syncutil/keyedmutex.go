// Package syncutil provides small concurrency helpers.
package syncutil

import (
	"hash/fnv"
	"sync"
)

// keyedShards bounds lock memory regardless of how many accounts are seen.
const keyedShards = 256

// KeyedMutex serializes work per string key (here: per account address)
// using a fixed pool of mutexes. Keys that hash to the same shard contend
// with each other, which is acceptable for short critical sections like
// nonce-fetch-then-sign.
//
// The zero value is ready to use.
type KeyedMutex struct {
	shards [keyedShards]sync.Mutex
}

// Lock acquires the mutex for key and returns its unlock function.
func (m *KeyedMutex) Lock(key string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	mu := &m.shards[h.Sum32()%keyedShards]
	mu.Lock()
	return mu.Unlock
}
