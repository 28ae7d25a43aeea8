// Package shardmap is a generic sharded concurrent map: the storage
// backend shards a key space across many independently-locked buckets
// so the multi-threaded reactor backend doesn't serialize every
// connection on one global lock.
package shardmap

import (
	"sync"
	"sync/atomic"

	"github.com/zeebo/xxh3"
)

const DefaultDictSize = 1024

// shard 单个分片结构
type shard struct {
	m     map[string]interface{}
	mutex sync.RWMutex // 每个分片一把锁
}

// ConcurrentDict 全局并发 Map
type ConcurrentDict struct {
	table      []*shard // 分片切片
	count      int32    // 全局数据量统计 (使用原子操作)
	shardCount int      // 分片数 (主要用于取模)
}

func MakeConcurrent(shardCount int) *ConcurrentDict {
	shards := make([]*shard, shardCount)
	for i := 0; i < shardCount; i++ {
		shards[i] = &shard{
			m: make(map[string]interface{}),
		}
	}
	return &ConcurrentDict{
		table:      shards,
		count:      0,
		shardCount: shardCount,
	}
}

func (dict *ConcurrentDict) Get(key string) (val interface{}, exists bool) {
	shard := dict.getShard(key)
	shard.mutex.RLock() // 只加读锁
	defer shard.mutex.RUnlock()
	val, exists = shard.m[key]
	return
}

func (dict *ConcurrentDict) Put(key string, val interface{}) (result int) {
	shard := dict.getShard(key)
	shard.mutex.Lock() // 加写锁
	defer shard.mutex.Unlock()

	if _, ok := shard.m[key]; ok {
		shard.m[key] = val
		return 0 // 覆盖
	}
	shard.m[key] = val
	atomic.AddInt32(&dict.count, 1) // 原子增加总数
	return 1                        // 新增
}

func (dict *ConcurrentDict) PutIfAbsent(key string, val interface{}) (result int) {
	shard := dict.getShard(key)
	shard.mutex.Lock()
	defer shard.mutex.Unlock()

	if _, ok := shard.m[key]; ok {
		return 0 // 存在，不操作
	}
	shard.m[key] = val
	atomic.AddInt32(&dict.count, 1)
	return 1
}

func (dict *ConcurrentDict) PutIfExists(key string, val interface{}) (result int) {
	shard := dict.getShard(key)
	shard.mutex.Lock()
	defer shard.mutex.Unlock()

	if _, ok := shard.m[key]; ok {
		shard.m[key] = val
		return 1 // 更新成功
	}
	return 0 // 不存在，不更新
}

func (dict *ConcurrentDict) Remove(key string) (result int) {
	shard := dict.getShard(key)
	shard.mutex.Lock()
	defer shard.mutex.Unlock()

	if _, ok := shard.m[key]; ok {
		delete(shard.m, key)
		atomic.AddInt32(&dict.count, -1) // 原子减少
		return 1
	}
	return 0
}

func (dict *ConcurrentDict) Len() int {
	return int(atomic.LoadInt32(&dict.count))
}

// getShard 根据 key 定位分片
func (dict *ConcurrentDict) getShard(key string) *shard {
	hash := xxh3.HashString(key)
	shardIdx := hash % uint64(dict.shardCount)

	return dict.table[shardIdx]
}
