package dispatch

import (
	"github.com/wippyai/ffi-bridge/schema"
)

// OpKind distinguishes the shapes of exposed operations.
type OpKind uint8

const (
	OpFunction OpKind = iota
	OpConstructor
	OpMethod
	// OpFree releases the receiver handle.
	OpFree
)

func (k OpKind) String() string {
	switch k {
	case OpConstructor:
		return "constructor"
	case OpMethod:
		return "method"
	case OpFree:
		return "free"
	}
	return "function"
}

// FreeMethod is the name of the synthetic release operation every object
// gets: "<Object>.free".
const FreeMethod = "free"

// Descriptor describes one callable operation. It is immutable once the
// table is built.
type Descriptor struct {
	Return *schema.Type // nil for no return value
	// Receiver is the object type whose handle leads the argument buffer.
	Receiver string
	// Error is the declared error type, empty if none.
	Error string
	Name  string
	Args  []schema.Field
	Docs  []string
	Kind  OpKind
}

// HasReceiver reports whether the argument buffer starts with a handle.
func (d *Descriptor) HasReceiver() bool {
	return d.Receiver != ""
}

// Signature renders the descriptor in interface-definition syntax.
func (d *Descriptor) Signature() string {
	s := schema.FormatType(d.Return) + " " + d.Name + "("
	if d.HasReceiver() {
		s += d.Receiver + " self"
		if len(d.Args) > 0 {
			s += ", "
		}
	}
	for i, a := range d.Args {
		if i > 0 {
			s += ", "
		}
		s += schema.FormatType(a.Type) + " " + a.Name
	}
	s += ")"
	if d.Error != "" {
		s += " throws " + d.Error
	}
	return s
}

// OperationName joins an owner and member the way descriptors are keyed.
func OperationName(owner, member string) string {
	if owner == "" {
		return member
	}
	return owner + "." + member
}

func constructorName(c *schema.ConstructorDef) string {
	if c.Name == "" {
		return schema.DefaultConstructor
	}
	return c.Name
}
