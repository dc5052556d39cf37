// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xmap

// Entry is a named acquisition value.
type Entry struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Settings is an ordered list of acquisition values.
// New names are appended, existing names keep their position.
type Settings struct {
	entries []Entry
	index   map[string]int
}

// NewSettings returns settings initialized from entries.
func NewSettings(entries ...Entry) *Settings {
	s := &Settings{
		entries: make([]Entry, 0, len(entries)),
		index:   make(map[string]int, len(entries)),
	}
	for _, e := range entries {
		s.Set(e.Name, e.Value)
	}
	return s
}

// Len returns the number of entries.
func (s *Settings) Len() int { return len(s.entries) }

// Get returns the value stored under name.
func (s *Settings) Get(name string) (float64, bool) {
	i, ok := s.index[name]
	if !ok {
		return 0, false
	}
	return s.entries[i].Value, true
}

// Set stores v under name.
func (s *Settings) Set(name string, v float64) {
	if i, ok := s.index[name]; ok {
		s.entries[i].Value = v
		return
	}
	s.index[name] = len(s.entries)
	s.entries = append(s.entries, Entry{Name: name, Value: v})
}

// Remove deletes name and reports whether it was present.
func (s *Settings) Remove(name string) bool {
	i, ok := s.index[name]
	if !ok {
		return false
	}
	copy(s.entries[i:], s.entries[i+1:])
	s.entries = s.entries[:len(s.entries)-1]
	delete(s.index, name)
	for j := i; j < len(s.entries); j++ {
		s.index[s.entries[j].Name] = j
	}
	return true
}

// Entries returns a copy of the entries, in order.
func (s *Settings) Entries() []Entry {
	o := make([]Entry, len(s.entries))
	copy(o, s.entries)
	return o
}

// Clone returns a deep copy of s.
func (s *Settings) Clone() *Settings {
	return NewSettings(s.entries...)
}
