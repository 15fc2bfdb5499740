package types

// Affinity is the column-affinity tag spec.md §4.4 uses for index
// compatibility checks ("the term's column affinity must be compatible").
// It layers on top of TypeID the same way SQLite's column affinity layers
// on top of a declared type: a small, closed set that expressions and
// index columns both carry so the planner can compare them cheaply.
type Affinity uint8

const (
	AffinityNone Affinity = iota
	AffinityInteger
	AffinityReal
	AffinityText
	AffinityBlob
	AffinityBoolean
)

// AffinityOf maps a storage TypeID to its planning-time affinity.
func AffinityOf(t TypeID) Affinity {
	switch t {
	case Integer, BigInt, Tinyint, Smallint:
		return AffinityInteger
	case Decimal:
		return AffinityReal
	case Varchar:
		return AffinityText
	case Boolean:
		return AffinityBoolean
	default:
		return AffinityNone
	}
}

// Compatible reports whether a comparison between a column of affinity a
// and a term of affinity b can be driven through an index without a
// runtime conversion the index doesn't reflect. Boolean is treated as a
// restricted integer affinity, matching how the storage layer represents
// it (a single boolean pointer alongside numeric fields).
func (a Affinity) Compatible(b Affinity) bool {
	if a == b {
		return true
	}
	na := a == AffinityInteger || a == AffinityReal || a == AffinityBoolean
	nb := b == AffinityInteger || b == AffinityReal || b == AffinityBoolean
	return na && nb
}

// Collation names the comparison sequence used to order text, mirroring
// SQLite's BINARY/NOCASE collations (spec.md §4.3 step 5).
type Collation string

const (
	CollationBinary Collation = "BINARY"
	CollationNoCase Collation = "NOCASE"
)

// SameName does a case-insensitive comparison of collation names, per
// spec.md §4.4 ("collation must match...case-insensitive compare by
// name").
func SameName(a, b Collation) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'a' <= ca && ca <= 'z' {
			ca -= 'a' - 'A'
		}
		if 'a' <= cb && cb <= 'z' {
			cb -= 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
