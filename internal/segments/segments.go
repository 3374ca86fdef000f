// Package segments validates tenant memory and memory segments before they
// are persisted.
package segments

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cryguy/tickrun/internal/core"
)

const (
	MaxID         = 99
	MaxActive     = 10
	MaxWrites     = 10
	MaxSegmentLen = 100 * 1024
	MaxMemoryLen  = 2 * 1024 * 1024
)

// ParseID parses a segment id the way tenant code spells it: a leading
// integer, optionally followed by garbage, as parseInt would read it.
func ParseID(s string) (int, error) {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	id, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, &core.ValidationError{Field: "segment", Message: fmt.Sprintf("%q is not a valid segment ID", s)}
	}
	if err := CheckID(id); err != nil {
		return 0, err
	}
	return id, nil
}

// CheckID rejects ids outside [0, MaxID].
func CheckID(id int) error {
	if id < 0 || id > MaxID {
		return &core.ValidationError{Field: "segment", Message: fmt.Sprintf("%q is not a valid segment ID", strconv.Itoa(id))}
	}
	return nil
}

// ValidateActive checks a requested active set.
func ValidateActive(ids []int) error {
	if len(ids) > MaxActive {
		return &core.ValidationError{Field: "activeSegments", Message: fmt.Sprintf("Only %d memory segments can be active at the same time", MaxActive)}
	}
	for _, id := range ids {
		if err := CheckID(id); err != nil {
			return err
		}
	}
	return nil
}

// ValidatePublic checks the ids a tenant exposes to others.
func ValidatePublic(ids []int) error {
	for _, id := range ids {
		if err := CheckID(id); err != nil {
			return err
		}
	}
	return nil
}

// JoinPublic renders public ids as the comma separated list that is stored.
func JoinPublic(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ",")
}

// ValidateWrites checks the segments a tenant wrote this tick. Entries that
// fail are dropped and reported; more than MaxWrites entries drops them all.
func ValidateWrites(raw map[string]string) (map[int]string, []error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if len(raw) > MaxWrites {
		return nil, []error{&core.ValidationError{Field: "memorySegments", Message: fmt.Sprintf("Cannot save more than %d memory segments on the same tick", MaxWrites)}}
	}
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var errs []error
	out := make(map[int]string, len(raw))
	for _, k := range keys {
		id, err := strconv.Atoi(k)
		if err != nil || CheckID(id) != nil {
			errs = append(errs, &core.ValidationError{Field: "memorySegments", Message: fmt.Sprintf("%q is not a valid memory segment ID", k)})
			continue
		}
		if JSLength(raw[k]) > MaxSegmentLen {
			errs = append(errs, &core.ValidationError{Field: "memorySegments", Message: fmt.Sprintf("Memory segment #%d has exceeded 100 KB length limit", id)})
			continue
		}
		out[id] = raw[k]
	}
	if len(out) == 0 {
		out = nil
	}
	return out, errs
}

// ValidateMemory checks the raw memory string.
func ValidateMemory(data string) error {
	if JSLength(data) > MaxMemoryLen {
		return &core.ValidationError{Field: "memory", Message: "Raw memory length exceeded 2 MB limit"}
	}
	return nil
}

// JSLength is the length of s in UTF-16 code units, matching String.length.
func JSLength(s string) int {
	n := 0
	for _, r := range s {
		if r >= 0x10000 {
			n += 2
		} else {
			n++
		}
	}
	return n
}
