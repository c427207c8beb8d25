package object

import (
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Kind identifies the declared value type of a property. Each property has
// a fixed declared kind; notification values are checked against it before
// they reach the cache.
type Kind int

const (
	KindBool Kind = iota
	KindString
	KindInt16
	KindUint16
	KindUint32
	KindStrings
	KindBytes
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindInt16:
		return "int16"
	case KindUint16:
		return "uint16"
	case KindUint32:
		return "uint32"
	case KindStrings:
		return "[]string"
	case KindBytes:
		return "[]byte"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Zero returns the type-appropriate zero value for the kind. Snapshot fields
// default to it before the first notification or refresh.
func (k Kind) Zero() interface{} {
	switch k {
	case KindBool:
		return false
	case KindString:
		return ""
	case KindInt16:
		return int16(0)
	case KindUint16:
		return uint16(0)
	case KindUint32:
		return uint32(0)
	case KindStrings:
		return []string(nil)
	case KindBytes:
		return []byte(nil)
	default:
		return nil
	}
}

// Check validates a raw notification value against the kind.
// Returns the value and true when it matches the declared type.
func (k Kind) Check(v interface{}) (interface{}, bool) {
	switch k {
	case KindBool:
		_, ok := v.(bool)
		return v, ok
	case KindString:
		_, ok := v.(string)
		return v, ok
	case KindInt16:
		_, ok := v.(int16)
		return v, ok
	case KindUint16:
		_, ok := v.(uint16)
		return v, ok
	case KindUint32:
		_, ok := v.(uint32)
		return v, ok
	case KindStrings:
		_, ok := v.([]string)
		return v, ok
	case KindBytes:
		_, ok := v.([]byte)
		return v, ok
	default:
		return v, false
	}
}

// Activity wires a tracked boolean property to a pair of semantic events:
// Activated fires on a false-to-true transition, Deactivated on true-to-false.
type Activity struct {
	Activated   string
	Deactivated string
}

// Property declares one entry of a remote object's property set.
type Property struct {
	Name     string // wire name used by the remote side
	Kind     Kind
	Display  string    // display name carried by change events; defaults to Name
	MirrorOf string    // wire name of the property this one aliases (legacy pair)
	Activity *Activity // non-nil for tracked boolean activity properties
}

// DisplayName returns the display name, falling back to the wire name.
func (p *Property) DisplayName() string {
	if p.Display != "" {
		return p.Display
	}
	return p.Name
}

// Schema is the declared property set of a remote object. Iteration order is
// declaration order.
type Schema struct {
	props       *orderedmap.OrderedMap[string, *Property]
	mirrors     map[string][]string // canonical wire name -> all names in the group
	activations map[string]*Property
}

// NewSchema builds a schema from property declarations.
// Mirror links must reference a declared property of the same kind, and
// activity wiring is only valid on canonical boolean properties.
func NewSchema(props ...Property) (*Schema, error) {
	s := &Schema{
		props:       orderedmap.New[string, *Property](),
		mirrors:     make(map[string][]string),
		activations: make(map[string]*Property),
	}

	for i := range props {
		p := props[i]
		if p.Name == "" {
			return nil, fmt.Errorf("property %d has no name", i)
		}
		if _, exists := s.props.Get(p.Name); exists {
			return nil, fmt.Errorf("duplicate property %q", p.Name)
		}
		s.props.Set(p.Name, &p)
	}

	for pair := s.props.Oldest(); pair != nil; pair = pair.Next() {
		p := pair.Value
		if p.MirrorOf != "" {
			target, ok := s.props.Get(p.MirrorOf)
			if !ok {
				return nil, fmt.Errorf("property %q mirrors unknown property %q", p.Name, p.MirrorOf)
			}
			if target.MirrorOf != "" {
				return nil, fmt.Errorf("property %q mirrors non-canonical property %q", p.Name, p.MirrorOf)
			}
			if target.Kind != p.Kind {
				return nil, fmt.Errorf("property %q mirrors %q with a different kind", p.Name, p.MirrorOf)
			}
			if p.Activity != nil {
				return nil, fmt.Errorf("property %q: activity must be declared on the canonical property %q", p.Name, p.MirrorOf)
			}
		}
		if p.Activity != nil {
			if p.Kind != KindBool {
				return nil, fmt.Errorf("property %q: activity requires a bool property", p.Name)
			}
			if p.Activity.Activated == "" || p.Activity.Deactivated == "" {
				return nil, fmt.Errorf("property %q: activity needs both event names", p.Name)
			}
			if prev, dup := s.activations[p.Activity.Activated]; dup {
				return nil, fmt.Errorf("event %q wired to both %q and %q", p.Activity.Activated, prev.Name, p.Name)
			}
			s.activations[p.Activity.Activated] = p
		}
	}

	// Mirror groups: canonical name first, aliases in declaration order
	for pair := s.props.Oldest(); pair != nil; pair = pair.Next() {
		p := pair.Value
		if p.MirrorOf == "" {
			s.mirrors[p.Name] = append([]string{p.Name}, s.mirrors[p.Name]...)
		}
	}
	for pair := s.props.Oldest(); pair != nil; pair = pair.Next() {
		p := pair.Value
		if p.MirrorOf != "" {
			s.mirrors[p.MirrorOf] = append(s.mirrors[p.MirrorOf], p.Name)
		}
	}

	return s, nil
}

// MustSchema is like NewSchema but panics on invalid declarations.
// Intended for package-level schema construction.
func MustSchema(props ...Property) *Schema {
	s, err := NewSchema(props...)
	if err != nil {
		panic(err)
	}
	return s
}

// Lookup returns the declaration for a wire name.
func (s *Schema) Lookup(name string) (*Property, bool) {
	p, ok := s.props.Get(name)
	return p, ok
}

// Canonical resolves a property to the canonical member of its mirror group.
func (s *Schema) Canonical(p *Property) *Property {
	if p.MirrorOf == "" {
		return p
	}
	canon, _ := s.props.Get(p.MirrorOf)
	return canon
}

// MirrorGroup returns every wire name aliased to the canonical property,
// the canonical name included.
func (s *Schema) MirrorGroup(canonical string) []string {
	return s.mirrors[canonical]
}

// ActivationProperty returns the canonical property whose activated event
// matches the given event name.
func (s *Schema) ActivationProperty(event string) (*Property, bool) {
	p, ok := s.activations[event]
	return p, ok
}

// Names returns all wire names in declaration order.
func (s *Schema) Names() []string {
	names := make([]string, 0, s.props.Len())
	for pair := s.props.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}

// Len returns the number of declared properties.
func (s *Schema) Len() int {
	return s.props.Len()
}
