// Copyright (C) The Streamworkers Authors. All rights reserved.

// Package processor defines the processor-id format used throughout the
// dispatch core: active ids look like "3", standby ids look like "3-0",
// "3-1", and so on.
package processor

import "strings"

// ID is an opaque processor identifier. Standby ids are syntactically
// recognisable: they contain a "-" separating the active id from the
// standby index.
type ID string

// IsStandby reports whether id names a standby replica.
func IsStandby(id ID) bool {
	return strings.Contains(string(id), "-")
}

// ActiveOf returns the active id that standbyID backs up. If standbyID is
// not a standby id, it is returned unchanged.
func ActiveOf(standbyID ID) ID {
	if i := strings.Index(string(standbyID), "-"); i >= 0 {
		return standbyID[:i]
	}
	return standbyID
}
