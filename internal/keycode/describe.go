package keycode

// DescribeEntry is one row of the human-readable description table used by
// Describe, spec.md §4.C: "performs a table lookup keyed first by
// code-with-argument and falling back to code-without-argument".
type DescribeEntry struct {
	Type      Type
	Group     uint8
	HasArg    bool   // true if this entry is keyed on a specific argument
	Argument  uint16 // meaningful only when HasArg
	TypeName  string
	CmdName   string
}

// DescribeTable is a registry of human-readable names for type/group
// (optionally +argument) combinations.
type DescribeTable struct {
	byArg    map[describeKeyArg]DescribeEntry
	byNoArg  map[describeKeyNoArg]DescribeEntry
}

type describeKeyArg struct {
	typ      Type
	group    uint8
	argument uint16
}

type describeKeyNoArg struct {
	typ   Type
	group uint8
}

// NewDescribeTable builds an empty table.
func NewDescribeTable() *DescribeTable {
	return &DescribeTable{
		byArg:   make(map[describeKeyArg]DescribeEntry),
		byNoArg: make(map[describeKeyNoArg]DescribeEntry),
	}
}

// Register adds an entry to the table.
func (t *DescribeTable) Register(e DescribeEntry) {
	if e.HasArg {
		t.byArg[describeKeyArg{e.Type, e.Group, e.Argument}] = e
	} else {
		t.byNoArg[describeKeyNoArg{e.Type, e.Group}] = e
	}
}

// Description is the result of Describe.
type Description struct {
	TypeName string
	CmdName  string
	Argument uint16
	Flags    []string
}

// Describe performs the table lookup described in spec.md §4.C: first by
// code-with-argument, then by code-without-argument, and fails if neither
// matches.
func (t *DescribeTable) Describe(c Code) (Description, error) {
	typ, group, argument, flags, err := Decode(c)
	if err != nil {
		return Description{}, err
	}

	if e, ok := t.byArg[describeKeyArg{typ, group, argument}]; ok {
		return Description{
			TypeName: e.TypeName,
			CmdName:  e.CmdName,
			Argument: argument,
			Flags:    flags.Names(),
		}, nil
	}
	if e, ok := t.byNoArg[describeKeyNoArg{typ, group}]; ok {
		return Description{
			TypeName: e.TypeName,
			CmdName:  e.CmdName,
			Argument: argument,
			Flags:    flags.Names(),
		}, nil
	}
	return Description{}, ErrNotFound
}

// StandardTable returns the built-in describe table for the command
// families spec.md §4.C names by example (routing, pass-through,
// go-to-line) plus the always-present SYM ASCII range. Drivers or the
// command processor may register additional families via Register on the
// returned table.
func StandardTable() *DescribeTable {
	t := NewDescribeTable()

	t.Register(DescribeEntry{Type: TypeCmd, Group: 0x10, TypeName: "CMD", CmdName: "route-cursor", HasArg: false})
	t.Register(DescribeEntry{Type: TypeCmd, Group: 0x20, TypeName: "CMD", CmdName: "pass-through", HasArg: false})
	t.Register(DescribeEntry{Type: TypeCmd, Group: 0x30, TypeName: "CMD", CmdName: "goto-line", HasArg: false})
	t.Register(DescribeEntry{Type: TypeCmd, Group: 0x40, TypeName: "CMD", CmdName: "goto-column", HasArg: false})

	// Simple (zero-argument) commands live under group 0, where
	// ArgumentWidth(CMD, 0) == 0 leaves no argument bits to tell them
	// apart; no entries are registered for them here.

	for c := 0; c <= 0xFF; c++ {
		t.Register(DescribeEntry{Type: TypeSym, Group: 0x00, HasArg: true, Argument: uint16(c), TypeName: "SYM", CmdName: "char"})
	}

	return t
}
