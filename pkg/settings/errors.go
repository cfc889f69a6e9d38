// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-settings.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package settings

import "errors"

// Traversal and codec errors returned by Tree.Set and Tree.Get. Decode
// failures wrap ErrDecode together with the underlying codec error, so both
// errors.Is(err, ErrDecode) and the cause are available.
var (
	// ErrPathTooShort is returned when the path ends at an inner node.
	ErrPathTooShort = errors.New("path too short")

	// ErrPathTooLong is returned when path segments remain at a leaf or
	// atomic node.
	ErrPathTooLong = errors.New("path too long")

	// ErrBadIndex is returned when an array segment is not a base-ten
	// non-negative integer or is out of bounds.
	ErrBadIndex = errors.New("bad array index")

	// ErrMissingField is returned when a record segment names no field.
	ErrMissingField = errors.New("missing field")

	// ErrDecode is returned when a leaf value cannot be decoded or encoded.
	ErrDecode = errors.New("decode error")

	// ErrBufferTooSmall is returned when an encoded leaf value does not fit
	// into the caller-supplied buffer.
	ErrBufferTooSmall = errors.New("buffer too small")

	// ErrCursorTooShort is returned by Tree.Iter when the caller-owned
	// cursor has fewer entries than the tree's maximum depth.
	ErrCursorTooShort = errors.New("cursor too short")
)
