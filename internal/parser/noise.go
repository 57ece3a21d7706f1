package parser

// NoiseFilter reports call names too common to be worth recording, such as language built-ins.
// Matching is best-effort.
type NoiseFilter interface {
	IsNoise(name string) bool
}

// NameSet is a NoiseFilter backed by a fixed set of names.
type NameSet map[string]struct{}

// NewNameSet returns a NameSet containing names.
func NewNameSet(names ...string) NameSet {
	s := make(NameSet, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

// IsNoise implements NoiseFilter.
func (s NameSet) IsNoise(name string) bool {
	_, ok := s[name]
	return ok
}

// DefaultNoiseFilters returns a fresh per-language filter map.
func DefaultNoiseFilters() map[string]NoiseFilter {
	return map[string]NoiseFilter{
		"go": NewNameSet(
			"append", "len", "cap", "make", "new", "panic", "recover", "print", "println",
			"copy", "delete", "close", "min", "max", "clear",
			"Errorf", "Sprintf", "Printf", "Println", "Fprintf", "Sprint",
		),
		"python": NewNameSet(
			"print", "len", "range", "str", "int", "float", "bool", "list", "dict", "set", "tuple",
			"isinstance", "super", "enumerate", "zip", "open", "sorted", "getattr", "setattr",
			"hasattr", "type", "min", "max", "sum", "any", "all", "map", "filter", "repr",
			"format", "append", "join", "split", "strip", "get", "items", "keys", "values",
		),
		"javascript": scriptNoise(),
		"typescript": scriptNoise(),
		"java": NewNameSet(
			"println", "print", "printf", "equals", "hashCode", "toString", "size", "get", "add",
			"put", "format", "valueOf", "isEmpty", "contains",
		),
	}
}

func scriptNoise() NameSet {
	return NewNameSet(
		"log", "error", "warn", "info", "debug", "push", "map", "filter", "forEach", "reduce",
		"then", "catch", "finally", "require", "parseInt", "parseFloat", "stringify", "parse",
		"toString", "setTimeout", "clearTimeout", "keys", "values", "entries", "includes",
		"Promise", "Array", "Object", "String", "Number", "Boolean",
	)
}
