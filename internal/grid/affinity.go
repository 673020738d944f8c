package grid

import (
	"hash/fnv"
	"sort"
)

// PartitionOf はキーが属するパーティション番号を返す
func PartitionOf(key string, partitions int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(partitions))
}

// assignOwners は各パーティションの所有ノード（先頭がプライマリ）を計算する。
// Rendezvous hashing なので、ノードの増減で移動するパーティションは最小限になる。
func assignOwners(servers []*Node, partitions, backups int, mode Mode) [][]*Node {
	owners := make([][]*Node, partitions)
	if len(servers) == 0 {
		return owners
	}

	copies := backups + 1
	if mode == ModeReplicated || copies > len(servers) {
		copies = len(servers)
	}

	type scored struct {
		node  *Node
		score uint64
	}
	ranked := make([]scored, len(servers))

	for part := range partitions {
		for i, n := range servers {
			ranked[i] = scored{node: n, score: rendezvousScore(n, part)}
		}
		sort.Slice(ranked, func(i, j int) bool {
			if ranked[i].score == ranked[j].score {
				return ranked[i].node.id < ranked[j].node.id
			}
			return ranked[i].score > ranked[j].score
		})

		list := make([]*Node, copies)
		for i := range copies {
			list[i] = ranked[i].node
		}
		owners[part] = list
	}
	return owners
}

func rendezvousScore(n *Node, part int) uint64 {
	h := fnv.New64a()
	id := n.consistentID
	_, _ = h.Write(id[:])
	_, _ = h.Write([]byte{byte(part >> 24), byte(part >> 16), byte(part >> 8), byte(part)})
	return h.Sum64()
}

func sameOwners(a, b []*Node) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
