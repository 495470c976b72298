package expressions

import (
	"sort"
	"strings"
)

// RefKind distinguishes the three reference syntaxes.
type RefKind int

const (
	// RefTask is ${name}: evaluate another task.
	RefTask RefKind = iota
	// RefPrevious is ${0}: the preceding step's output.
	RefPrevious
	// RefInput is @{key}: a value from the input context.
	RefInput
)

// PreviousOutputToken is the literal placeholder for the previous step's output.
const PreviousOutputToken = "${0}"

// Ref is one reference found in a string. Start and End are byte offsets of
// the whole token, so s[Start:End] is e.g. "${name}".
type Ref struct {
	Kind  RefKind
	Name  string
	Start int
	End   int
}

// Scan returns every reference in s in order of appearance.
//
// Names are one or more of [A-Za-z0-9_]. A "${...}" whose name starts with
// '0' is only a reference when it is exactly ${0}; "${01}" or "${0x}" stay
// literal text.
func Scan(s string) []Ref {
	var refs []Ref
	i := 0
	for i < len(s) {
		idx := strings.IndexAny(s[i:], "$@")
		if idx == -1 {
			break
		}
		pos := i + idx
		ref, ok := scanAt(s, pos)
		if !ok {
			i = pos + 1
			continue
		}
		refs = append(refs, ref)
		i = ref.End
	}
	return refs
}

func scanAt(s string, pos int) (Ref, bool) {
	if pos+1 >= len(s) || s[pos+1] != '{' {
		return Ref{}, false
	}
	start := pos + 2
	end := start
	for end < len(s) && isNameByte(s[end]) {
		end++
	}
	if end == start || end >= len(s) || s[end] != '}' {
		return Ref{}, false
	}
	name := s[start:end]
	ref := Ref{Name: name, Start: pos, End: end + 1}

	if s[pos] == '@' {
		ref.Kind = RefInput
		return ref, true
	}
	switch {
	case name == "0":
		ref.Kind = RefPrevious
	case name[0] == '0':
		return Ref{}, false
	default:
		ref.Kind = RefTask
	}
	return ref, true
}

func isNameByte(c byte) bool {
	return c == '_' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}

// IsValidName reports whether name can appear inside a reference.
func IsValidName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		if !isNameByte(name[i]) {
			return false
		}
	}
	return true
}

// IsReferenceableTaskName reports whether ${name} would be read as a task
// reference.
func IsReferenceableTaskName(name string) bool {
	return IsValidName(name) && name[0] != '0'
}

// TaskRefs returns the task references in s, in order, duplicates included.
func TaskRefs(s string) []Ref {
	return filter(Scan(s), RefTask)
}

// HasPreviousOutput reports whether s contains ${0}.
func HasPreviousOutput(s string) bool {
	return len(filter(Scan(s), RefPrevious)) > 0
}

func filter(refs []Ref, kind RefKind) []Ref {
	out := refs[:0:0]
	for _, r := range refs {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

// Substitute replaces refs[i] in s with values[i]. refs must come from a
// scan of s and be in order.
func Substitute(s string, refs []Ref, values []string) string {
	if len(refs) == 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	last := 0
	for i, r := range refs {
		b.WriteString(s[last:r.Start])
		b.WriteString(values[i])
		last = r.End
	}
	b.WriteString(s[last:])
	return b.String()
}

// ResolveInputs replaces every @{key} in s with its value from inputs, or
// with "" when the key is absent.
func ResolveInputs(s string, inputs InputContext) string {
	refs := filter(Scan(s), RefInput)
	if len(refs) == 0 {
		return s
	}
	values := make([]string, len(refs))
	for i, r := range refs {
		if inputs != nil {
			values[i], _ = inputs.Lookup(r.Name)
		}
	}
	return Substitute(s, refs, values)
}

// ReplacePreviousOutput replaces every ${0} in s with prev.
func ReplacePreviousOutput(s, prev string) string {
	refs := filter(Scan(s), RefPrevious)
	values := make([]string, len(refs))
	for i := range values {
		values[i] = prev
	}
	return Substitute(s, refs, values)
}

// TaskReferences returns the distinct task names referenced anywhere in v,
// sorted. v may be a string or a nested structure of maps and slices.
func TaskReferences(v any) []string {
	return collectNames(v, RefTask)
}

// InputReferences returns the distinct input keys referenced anywhere in v,
// sorted.
func InputReferences(v any) []string {
	return collectNames(v, RefInput)
}

// ContainsPreviousOutput reports whether ${0} appears anywhere in v.
func ContainsPreviousOutput(v any) bool {
	found := false
	WalkStrings(v, func(s string) {
		if !found && HasPreviousOutput(s) {
			found = true
		}
	})
	return found
}

func collectNames(v any, kind RefKind) []string {
	seen := map[string]bool{}
	WalkStrings(v, func(s string) {
		for _, r := range filter(Scan(s), kind) {
			seen[r.Name] = true
		}
	})
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// WalkStrings calls fn for every string leaf of v. Map values are visited
// in key order.
func WalkStrings(v any, fn func(string)) {
	switch val := v.(type) {
	case string:
		fn(val)
	case []any:
		for _, item := range val {
			WalkStrings(item, fn)
		}
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			WalkStrings(val[k], fn)
		}
	}
}
