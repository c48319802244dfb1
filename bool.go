package plist

// Bool is a boolean value.
type Bool struct {
	refcount
	v bool
}

// NewBool returns a new boolean value.
func NewBool(v bool) *Bool {
	ret := &Bool{v: v}
	ret.init()
	return ret
}

func (*Bool) Kind() Kind { return KindBoolean }

// Bool returns the value of b.
func (b *Bool) Bool() bool { return b.v }

func (b *Bool) String() string {
	if b.v {
		return "true"
	}
	return "false"
}
