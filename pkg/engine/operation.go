package engine

import (
	"fmt"
	"strings"

	"filecompare/pkg/match"
)

// Operation is the set relation computed between file1 and file2.
type Operation uint8

const (
	// RemoveMatches keeps the file2 rows whose key is absent from file1.
	RemoveMatches Operation = iota + 1
	// KeepMatches keeps the file2 rows whose key is present in file1.
	KeepMatches
	// CommonValues keeps the rows of both files whose key is in both.
	CommonValues
	// UniqueValues keeps the rows of both files whose key is in one only.
	UniqueValues
)

var operationNames = map[Operation]string{
	RemoveMatches: "remove_matches",
	KeepMatches:   "keep_matches",
	CommonValues:  "common_values",
	UniqueValues:  "unique_values",
}

func (op Operation) String() string {
	if s, ok := operationNames[op]; ok {
		return s
	}
	return fmt.Sprintf("operation(%d)", uint8(op))
}

func (op Operation) Valid() bool {
	_, ok := operationNames[op]
	return ok
}

// ParseOperation accepts the canonical names plus a few short forms.
func ParseOperation(s string) (Operation, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_") {
	case "remove_matches", "remove":
		return RemoveMatches, nil
	case "keep_matches", "keep", "keep_only_matches":
		return KeepMatches, nil
	case "common_values", "common", "find_common":
		return CommonValues, nil
	case "unique_values", "unique", "find_unique":
		return UniqueValues, nil
	default:
		return 0, fmt.Errorf("%w: unknown operation %q", ErrInvalidConfiguration, s)
	}
}

func (op Operation) MarshalText() ([]byte, error) {
	if !op.Valid() {
		return nil, fmt.Errorf("%w: unknown operation %d", ErrInvalidConfiguration, uint8(op))
	}
	return []byte(op.String()), nil
}

func (op *Operation) UnmarshalText(b []byte) error {
	v, err := ParseOperation(string(b))
	if err != nil {
		return err
	}
	*op = v
	return nil
}

// rules returns when file1 and file2 rows are emitted.
func (op Operation) rules() (file1, file2 match.Rule) {
	switch op {
	case RemoveMatches:
		return match.Never, match.WhenUnmatched
	case KeepMatches:
		return match.Never, match.WhenMatched
	case CommonValues:
		return match.WhenMatched, match.WhenMatched
	case UniqueValues:
		return match.WhenUnmatched, match.WhenUnmatched
	default:
		return match.Never, match.Never
	}
}

// routing maps the file rules onto the probe and index sides.
func (op Operation) routing(indexed Origin) match.Routing {
	r1, r2 := op.rules()
	if indexed == File1 {
		return match.Routing{Probe: r2, Index: r1}
	}
	return match.Routing{Probe: r1, Index: r2}
}

// tagsOrigin reports whether result rows come from both files and carry a
// source column.
func (op Operation) tagsOrigin() bool {
	return op == CommonValues || op == UniqueValues
}
