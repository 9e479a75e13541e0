package util

import (
	"encoding/binary"
	"hash/fnv"
	"math"
)

// HashId hashes a vertex id into the non-negative int64 range so stores with
// signed integer columns can partition on it with a modulo.
func HashId(vertexId uint64) int64 {
	inputBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(inputBytes, vertexId)

	algorithm := fnv.New64a()
	algorithm.Write(inputBytes)
	return int64(algorithm.Sum64() & math.MaxInt64)
}

// PartitionOf returns the partition a vertex hashes into.
func PartitionOf(vertexId uint64, numPartitions int) int {
	if numPartitions <= 1 {
		return 0
	}
	return int(HashId(vertexId) % int64(numPartitions))
}
