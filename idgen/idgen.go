// Copyright (c) 2025 BVK Chaitanya

// Package idgen creates deterministic sequences of uuids derived from a seed
// string. Jobs use these for exchange client-order-ids so that an order
// placement retried after a crash reuses the same id.
package idgen

import (
	"crypto/md5"
	"encoding/binary"

	"github.com/google/uuid"
)

type Generator struct {
	base uuid.UUID

	next uint64
}

func New(seed string, offset uint64) *Generator {
	base := uuid.UUID(md5.Sum([]byte(seed)))
	return &Generator{base: base, next: offset}
}

// Offset returns the sequence position of the next id. Persisting the offset
// along with the seed is enough to resume the sequence.
func (v *Generator) Offset() uint64 {
	return v.next
}

func (v *Generator) NextID() uuid.UUID {
	var buf [16 + 8]byte
	copy(buf[:16], v.base[:])
	binary.BigEndian.PutUint64(buf[16:], v.next)
	v.next++
	return uuid.UUID(md5.Sum(buf[:]))
}
