// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

// Package mempool pools the buffers used to encode outgoing messages.
package mempool

import (
	"bytes"
	"sync"
)

// maxPooledBuffer is the largest buffer kept by the default pool. Buffers grown
// by large payloads are left to the garbage collector.
const maxPooledBuffer = 64 * 1024

var bufPool = NewBuffer(maxPooledBuffer)

// GetBuffer takes a Buffer from the default buffer pool
func GetBuffer() *bytes.Buffer { return bufPool.Get() }

// PutBuffer returns Buffer to the default buffer pool
func PutBuffer(x *bytes.Buffer) { bufPool.Put(x) }

// Render encodes into a pooled buffer and returns a copy of the encoded bytes
// which is safe to hand to another goroutine.
func Render(fn func(buf *bytes.Buffer)) []byte {
	buf := GetBuffer()
	defer PutBuffer(buf)
	fn(buf)
	return append([]byte(nil), buf.Bytes()...)
}

// BufferPool hands out reusable byte buffers.
type BufferPool interface {
	Get() *bytes.Buffer
	Put(x *bytes.Buffer)
}

// NewBuffer returns a buffer pool. Buffers grown beyond max are not returned
// to the pool. If max <= 0, no limit is enforced.
func NewBuffer(max int) BufferPool {
	if max > 0 {
		return newBufferWithCap(max)
	}

	return newBuffer()
}

// Buffer is a Buffer pool.
type Buffer struct {
	pool *sync.Pool
}

func newBuffer() *Buffer {
	return &Buffer{
		pool: &sync.Pool{
			New: func() any { return new(bytes.Buffer) },
		},
	}
}

// Get a Buffer from the pool.
func (b *Buffer) Get() *bytes.Buffer {
	return b.pool.Get().(*bytes.Buffer)
}

// Put the Buffer back into pool. It resets the Buffer for reuse.
func (b *Buffer) Put(x *bytes.Buffer) {
	x.Reset()
	b.pool.Put(x)
}

// BufferWithCap is a Buffer pool which drops buffers above a capacity.
type BufferWithCap struct {
	bp  *Buffer
	max int
}

func newBufferWithCap(max int) *BufferWithCap {
	return &BufferWithCap{
		bp:  newBuffer(),
		max: max,
	}
}

// Get a Buffer from the pool.
func (b *BufferWithCap) Get() *bytes.Buffer {
	return b.bp.Get()
}

// Put the Buffer back into the pool if the capacity doesn't exceed the limit.
func (b *BufferWithCap) Put(x *bytes.Buffer) {
	if x.Cap() > b.max {
		return
	}
	b.bp.Put(x)
}
