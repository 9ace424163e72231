package util

import (
	"encoding/binary"

	"github.com/OneOfOne/xxhash"
)

// HashCode 将一个键进行Hash
func HashCode(key []byte) uint64 {
	h := xxhash.New64()
	h.Write(key)
	return h.Sum64()
}

// HashPosition 计算(表ID, 行位置)的Hash值，行标识只由位置决定
func HashPosition(tableID uint32, position int64) uint64 {
	var buf [12]byte
	binary.BigEndian.PutUint32(buf[0:4], tableID)
	binary.BigEndian.PutUint64(buf[4:12], uint64(position))
	return xxhash.Checksum64(buf[:])
}

// ShardIndex 根据Hash值选择分片
func ShardIndex(hash uint64, shards int) int {
	if shards <= 1 {
		return 0
	}
	return int(hash % uint64(shards))
}
