package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// TransformationMap records, per input text index, every original substring
// that was rewritten and the value written in its place.
//
// It is the one structure expected to cross a process boundary, so it
// serializes with item indexes in ascending numeric order and originals in
// lexical order within each item.
type TransformationMap map[int]map[string]string

// Pair is a single original -> replacement entry.
type Pair struct {
	Original    string `json:"original"`
	Replacement string `json:"replacement"`
}

// Record stores original -> replacement for item idx.
func (m TransformationMap) Record(idx int, original, replacement string) {
	item, ok := m[idx]
	if !ok {
		item = make(map[string]string)
		m[idx] = item
	}
	item[original] = replacement
}

// Indexes returns the item indexes present in the map in ascending order.
func (m TransformationMap) Indexes() []int {
	idx := make([]int, 0, len(m))
	for k := range m {
		idx = append(idx, k)
	}
	sort.Ints(idx)
	return idx
}

// Pairs returns the entries for item idx ordered by original value.
func (m TransformationMap) Pairs(idx int) []Pair {
	item := m[idx]
	pairs := make([]Pair, 0, len(item))
	for original, replacement := range item {
		pairs = append(pairs, Pair{Original: original, Replacement: replacement})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Original < pairs[j].Original })
	return pairs
}

// Len returns the total number of entries across all items.
func (m TransformationMap) Len() int {
	n := 0
	for _, item := range m {
		n += len(item)
	}
	return n
}

// Restore reverses the replacements recorded for item idx in text. It fails
// with ErrAmbiguousRestore when two originals share one replacement, which is
// the normal state of a REPLACE map with a single placeholder.
func (m TransformationMap) Restore(idx int, text string) (string, error) {
	pairs := m.Pairs(idx)
	if len(pairs) == 0 {
		return text, nil
	}

	owner := make(map[string]string, len(pairs))
	for _, p := range pairs {
		if prev, ok := owner[p.Replacement]; ok && prev != p.Original {
			return "", fmt.Errorf("%w: item %d replacement %q maps to more than one original", ErrAmbiguousRestore, idx, p.Replacement)
		}
		owner[p.Replacement] = p.Original
	}

	// Longer replacements first so a replacement that prefixes another never wins.
	sort.SliceStable(pairs, func(i, j int) bool {
		return len(pairs[i].Replacement) > len(pairs[j].Replacement)
	})
	args := make([]string, 0, len(pairs)*2)
	for _, p := range pairs {
		if p.Replacement == "" {
			continue
		}
		args = append(args, p.Replacement, p.Original)
	}
	return strings.NewReplacer(args...).Replace(text), nil
}

// MarshalJSON encodes the map with item indexes in ascending numeric order.
func (m TransformationMap) MarshalJSON() ([]byte, error) {
	if m == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, idx := range m.Indexes() {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(strconv.Quote(strconv.Itoa(idx)))
		buf.WriteByte(':')
		item, err := json.Marshal(m[idx])
		if err != nil {
			return nil, fmt.Errorf("transformation map item %d: %w", idx, err)
		}
		buf.Write(item)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes the representation produced by MarshalJSON.
func (m *TransformationMap) UnmarshalJSON(data []byte) error {
	var raw map[string]map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*m = nil
		return nil
	}
	out := make(TransformationMap, len(raw))
	for key, item := range raw {
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 {
			return fmt.Errorf("transformation map: invalid item index %q", key)
		}
		if item == nil {
			item = map[string]string{}
		}
		out[idx] = item
	}
	*m = out
	return nil
}
