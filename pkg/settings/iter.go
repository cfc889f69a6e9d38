// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-settings.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package settings

// Iter enumerates every leaf path of a tree in preorder, left to right over
// the declared fields and ascending over array indices. It is lazy, finite
// and single-pass: each Next advances the caller-owned cursor to the next
// unvisited leaf. A drained iterator leaves the cursor unspecified; Reset
// zeroes it for a new pass.
//
// Because the cursor is caller-owned, an interrupted pass can be resumed
// later by simply calling Next again, which is what lets a republish drain
// honor transport backpressure without losing its position.
type Iter struct {
	root   node
	cursor []int
	topic  topicWriter
}

// Iter constructs an enumerator over the tree using the caller-owned cursor
// and topic buffer. It refuses buffers smaller than the tree's metadata
// bounds: len(cursor) must be at least MaxDepth and len(topic) at least
// MaxTopicSize.
func (t *Tree) Iter(cursor []int, topic []byte) (*Iter, error) {
	if len(cursor) < t.md.MaxDepth {
		return nil, ErrCursorTooShort
	}
	if len(topic) < t.md.MaxTopicSize {
		return nil, ErrBufferTooSmall
	}
	return &Iter{root: t.root, cursor: cursor, topic: topicWriter{buf: topic}}, nil
}

// Next writes the next leaf path into the topic buffer and returns it. The
// returned string is a copy; the buffer itself is reused on the next call.
func (it *Iter) Next() (string, bool) {
	it.topic.reset()
	if !it.root.enumerate(it.cursor, &it.topic) {
		return "", false
	}
	return it.topic.string(), true
}

// Reset zeroes the cursor so the iterator starts a fresh pass.
func (it *Iter) Reset() {
	zeroCursor(it.cursor)
}
