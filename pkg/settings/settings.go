// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-settings.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package settings maps slash-separated paths onto the leaves of a declared
// settings value, so that every leaf can be read and written individually
// with a JSON payload.
//
// A settings value is an ordinary Go struct. Structs are records, addressed
// by field name (the json tag wins over the Go name); fixed-size arrays are
// addressed by decimal index; every other type is a leaf whose whole value is
// one JSON document. A struct field tagged `settings:"atomic"` is an atomic
// subtree: it takes part in the tree as a single leaf and its interior is
// never path-addressable.
//
//	type Device struct {
//	    SampleRate float64       `json:"sample-rate"`
//	    Gain       [2]float64    `json:"gain"`
//	    Filter     FilterConfig  `json:"filter" settings:"atomic"`
//	}
//
// With this declaration the addressable paths are "sample-rate", "gain/0",
// "gain/1" and "filter".
//
// Descriptors are built reflectively once per Go type and cached. Set and Get
// split the path into a newly allocated slice of segments before traversing,
// and Iter.Next returns each path as a new string. The enumeration cursor and
// topic buffer are caller-owned so hosts can reason about worst-case memory.
package settings

import (
	"fmt"
	"reflect"
	"strings"
)

// Metadata describes the static shape of a tree.
type Metadata struct {
	// MaxTopicSize is the byte length of the longest addressable path.
	MaxTopicSize int

	// MaxDepth is the number of cursor entries needed to enumerate the
	// tree, including the sentinel level that marks a completed path.
	MaxDepth int
}

// Tree binds a node descriptor to a live settings value.
type Tree struct {
	root node
	ptr  reflect.Value
	md   Metadata
}

// NewTree builds the path tree for v, which must be a non-nil pointer to the
// settings value.
func NewTree(v any) (*Tree, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return nil, fmt.Errorf("settings value must be a non-nil pointer, got %T", v)
	}

	root, err := descriptorFor(rv.Type().Elem())
	if err != nil {
		return nil, err
	}

	return &Tree{root: root, ptr: rv, md: root.meta()}, nil
}

// Value returns the pointer the tree was built over.
func (t *Tree) Value() any { return t.ptr.Interface() }

// Metadata returns the tree's static shape.
func (t *Tree) Metadata() Metadata { return t.md }

// Set decodes value into the node addressed by path. The write either fully
// applies or leaves the addressed subtree unchanged only at leaf granularity;
// callers needing whole-tree atomicity apply Set to a Clone and promote it on
// success.
func (t *Tree) Set(path string, value []byte) error {
	return t.root.set(t.ptr.Elem(), splitPath(path), value)
}

// Get encodes the node addressed by path into buf and returns the number of
// bytes written.
func (t *Tree) Get(path string, buf []byte) (int, error) {
	return t.root.get(t.ptr.Elem(), splitPath(path), buf)
}

// Clone returns a tree over a deep copy of the value.
func (t *Tree) Clone() *Tree {
	dst := reflect.New(t.ptr.Type().Elem())
	dst.Elem().Set(deepCopy(t.ptr.Elem()))
	return &Tree{root: t.root, ptr: dst, md: t.md}
}

// CopyFrom overwrites the tree's value with a deep copy of other's value.
// Both trees must have been built over the same type.
func (t *Tree) CopyFrom(other *Tree) {
	t.ptr.Elem().Set(deepCopy(other.ptr.Elem()))
}

// Copy deep-copies the settings value src points to into dst. Both must be
// pointers to the same type. It is the promotion step a validation handler
// performs after accepting a candidate.
func Copy(dst, src any) error {
	dv := reflect.ValueOf(dst)
	sv := reflect.ValueOf(src)
	if dv.Kind() != reflect.Pointer || dv.IsNil() || sv.Kind() != reflect.Pointer || sv.IsNil() {
		return fmt.Errorf("settings.Copy needs non-nil pointers, got %T and %T", dst, src)
	}
	if dv.Type() != sv.Type() {
		return fmt.Errorf("settings.Copy type mismatch: %T vs %T", dst, src)
	}
	dv.Elem().Set(deepCopy(sv.Elem()))
	return nil
}

// splitPath splits on '/' without cleaning: empty segments from leading,
// trailing or doubled separators stay in place and are rejected during
// traversal, since no record field or array index matches "".
func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// topicWriter appends path segments into a caller-owned buffer. Writes clamp
// at capacity instead of panicking; enumeration preconditions are validated
// when the iterator is constructed.
type topicWriter struct {
	buf []byte
	n   int
}

func (w *topicWriter) len() int       { return w.n }
func (w *topicWriter) reset()         { w.n = 0 }
func (w *topicWriter) truncate(n int) { w.n = n }
func (w *topicWriter) string() string { return string(w.buf[:w.n]) }

func (w *topicWriter) writeByte(b byte) {
	if w.n < len(w.buf) {
		w.buf[w.n] = b
		w.n++
	}
}

func (w *topicWriter) writeString(s string) {
	w.n += copy(w.buf[w.n:], s)
}
