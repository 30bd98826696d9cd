package memory

import (
	"hash/maphash"
	"iter"
)

const shardCount = 256

var shardSeed = maphash.MakeSeed()

// table is a copy-on-write map split into shards. A fork shares every shard
// with its parent and copies a shard only the first time it writes to it, so
// a transaction pays for the shards it touches rather than the whole table.
// A published table is never written again.
type table[K comparable, V any] struct {
	shards *[shardCount]map[K]V
	owned  *[shardCount]bool
	n      int
}

func newTable[K comparable, V any]() table[K, V] {
	return table[K, V]{shards: new([shardCount]map[K]V), owned: new([shardCount]bool)}
}

func (t *table[K, V]) fork() table[K, V] {
	shards := *t.shards
	return table[K, V]{shards: &shards, owned: new([shardCount]bool), n: t.n}
}

func shardOf[K comparable](k K) int {
	return int(maphash.Comparable(shardSeed, k) % shardCount)
}

func (t *table[K, V]) get(k K) (V, bool) {
	v, ok := t.shards[shardOf(k)][k]
	return v, ok
}

func (t *table[K, V]) writable(i int) map[K]V {
	if !t.owned[i] {
		m := make(map[K]V, len(t.shards[i])+1)
		for k, v := range t.shards[i] {
			m[k] = v
		}
		t.shards[i] = m
		t.owned[i] = true
	}
	return t.shards[i]
}

func (t *table[K, V]) put(k K, v V) {
	m := t.writable(shardOf(k))
	if _, ok := m[k]; !ok {
		t.n++
	}
	m[k] = v
}

func (t *table[K, V]) del(k K) {
	i := shardOf(k)
	if _, ok := t.shards[i][k]; !ok {
		return
	}
	delete(t.writable(i), k)
	t.n--
}

func (t *table[K, V]) len() int { return t.n }

func (t *table[K, V]) all() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		for _, m := range t.shards {
			for k, v := range m {
				if !yield(k, v) {
					return
				}
			}
		}
	}
}
