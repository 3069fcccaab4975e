package normalize

// Kind classifies a normalized key.
type Kind uint8

const (
	KindEmpty Kind = iota
	KindNumber
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindNumber:
		return "number"
	case KindText:
		return "text"
	default:
		return "unknown"
	}
}

// Key is the comparison form of a cell value. Two keys are equal when
// both kind and canonical text are equal; the zero Key is the Empty key.
type Key struct {
	kind Kind
	text string
}

// Empty is the distinguished key for blank or missing cells.
var Empty = Key{}

func (k Key) Kind() Kind { return k.kind }

func (k Key) IsEmpty() bool { return k.kind == KindEmpty }

// Text returns the canonical text of the key without its kind tag.
func (k Key) Text() string { return k.text }

// String returns the hashable form of the key: a kind tag byte followed by
// the canonical text. It is stable across runs and processes.
func (k Key) String() string {
	return string(rune('0'+k.kind)) + k.text
}

// Size is the number of bytes String would return.
func (k Key) Size() int {
	return 1 + len(k.text)
}

// Parse rebuilds a Key from its String form.
func Parse(s string) Key {
	if s == "" {
		return Empty
	}
	kind := Kind(s[0] - '0')
	if kind == KindEmpty {
		return Empty
	}
	return Key{kind: kind, text: s[1:]}
}
