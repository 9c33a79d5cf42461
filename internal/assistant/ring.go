/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package assistant

import (
	"fmt"
	"hash/fnv"
	"sort"
)

// hashRing maps session keys onto assistant names with consistent hashing,
// so adding or removing a slot only moves the sessions that hashed to it.
type hashRing struct {
	nodes    []uint32
	nodeMap  map[uint32]string
	replicas int
}

func newHashRing(replicas int) *hashRing {
	return &hashRing{
		nodeMap:  make(map[uint32]string),
		replicas: replicas,
	}
}

func (r *hashRing) add(name string) {
	for i := 0; i < r.replicas; i++ {
		hash := hashKey(fmt.Sprintf("%s:%d:vnode", name, i))
		r.nodes = append(r.nodes, hash)
		r.nodeMap[hash] = name
	}

	sort.Slice(r.nodes, func(i, j int) bool {
		return r.nodes[i] < r.nodes[j]
	})
}

// get returns the assistant responsible for key.
func (r *hashRing) get(key string) (string, bool) {
	if len(r.nodes) == 0 {
		return "", false
	}

	hash := hashKey(key)
	idx := sort.Search(len(r.nodes), func(i int) bool {
		return r.nodes[i] >= hash
	})
	if idx == len(r.nodes) {
		idx = 0
	}

	return r.nodeMap[r.nodes[idx]], true
}

// hashKey computes FNV-1a hash of a string.
func hashKey(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32()
}
