package object

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKind_Zero(t *testing.T) {
	assert.Equal(t, false, KindBool.Zero())
	assert.Equal(t, "", KindString.Zero())
	assert.Equal(t, int16(0), KindInt16.Zero())
	assert.Equal(t, uint16(0), KindUint16.Zero())
	assert.Equal(t, uint32(0), KindUint32.Zero())
	assert.Equal(t, []string(nil), KindStrings.Zero())
	assert.Equal(t, []byte(nil), KindBytes.Zero())
}

func TestKind_Check(t *testing.T) {
	cases := []struct {
		kind  Kind
		value interface{}
		ok    bool
	}{
		{KindBool, true, true},
		{KindBool, "true", false},
		{KindBool, 1, false},
		{KindString, "x", true},
		{KindString, []byte("x"), false},
		{KindInt16, int16(-42), true},
		{KindInt16, int(-42), false},
		{KindUint16, uint16(7), true},
		{KindUint32, uint32(7), true},
		{KindUint32, uint16(7), false},
		{KindStrings, []string{"a"}, true},
		{KindStrings, "a", false},
		{KindBytes, []byte{1}, true},
	}
	for _, tc := range cases {
		_, ok := tc.kind.Check(tc.value)
		assert.Equal(t, tc.ok, ok, "%s.Check(%#v)", tc.kind, tc.value)
	}
}

func TestProperty_DisplayName(t *testing.T) {
	p := Property{Name: "ServicesResolved", Display: "Services Resolved"}
	assert.Equal(t, "Services Resolved", p.DisplayName())

	p = Property{Name: "Connected"}
	assert.Equal(t, "Connected", p.DisplayName())
}

func TestNewSchema_Valid(t *testing.T) {
	s, err := NewSchema(
		Property{Name: "Connected", Kind: KindBool,
			Activity: &Activity{Activated: "connected", Deactivated: "disconnected"}},
		Property{Name: "Paired", Kind: KindBool},
		Property{Name: "Bonded", Kind: KindBool, MirrorOf: "Paired"},
		Property{Name: "Name", Kind: KindString},
	)
	require.NoError(t, err)

	assert.Equal(t, 4, s.Len())
	assert.Equal(t, []string{"Connected", "Paired", "Bonded", "Name"}, s.Names())

	p, ok := s.Lookup("Bonded")
	require.True(t, ok)
	assert.Equal(t, "Paired", s.Canonical(p).Name)
	assert.Equal(t, []string{"Paired", "Bonded"}, s.MirrorGroup("Paired"))

	canon, ok := s.Lookup("Name")
	require.True(t, ok)
	assert.Same(t, canon, s.Canonical(canon))
	assert.Equal(t, []string{"Name"}, s.MirrorGroup("Name"))

	act, ok := s.ActivationProperty("connected")
	require.True(t, ok)
	assert.Equal(t, "Connected", act.Name)
	_, ok = s.ActivationProperty("disconnected")
	assert.False(t, ok, "only the activated event name resolves to a property")
}

func TestNewSchema_Invalid(t *testing.T) {
	cases := []struct {
		name  string
		props []Property
	}{
		{"empty name", []Property{{Kind: KindBool}}},
		{"duplicate name", []Property{
			{Name: "A", Kind: KindBool},
			{Name: "A", Kind: KindBool},
		}},
		{"mirror of unknown", []Property{
			{Name: "A", Kind: KindBool, MirrorOf: "Missing"},
		}},
		{"mirror of mirror", []Property{
			{Name: "A", Kind: KindBool},
			{Name: "B", Kind: KindBool, MirrorOf: "A"},
			{Name: "C", Kind: KindBool, MirrorOf: "B"},
		}},
		{"mirror kind mismatch", []Property{
			{Name: "A", Kind: KindBool},
			{Name: "B", Kind: KindString, MirrorOf: "A"},
		}},
		{"activity on mirror", []Property{
			{Name: "A", Kind: KindBool},
			{Name: "B", Kind: KindBool, MirrorOf: "A",
				Activity: &Activity{Activated: "on", Deactivated: "off"}},
		}},
		{"activity on non-bool", []Property{
			{Name: "A", Kind: KindString,
				Activity: &Activity{Activated: "on", Deactivated: "off"}},
		}},
		{"activity missing event name", []Property{
			{Name: "A", Kind: KindBool, Activity: &Activity{Activated: "on"}},
		}},
		{"duplicate activation event", []Property{
			{Name: "A", Kind: KindBool, Activity: &Activity{Activated: "on", Deactivated: "off"}},
			{Name: "B", Kind: KindBool, Activity: &Activity{Activated: "on", Deactivated: "gone"}},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewSchema(tc.props...)
			assert.Error(t, err)
		})
	}
}

func TestMustSchema_PanicsOnInvalid(t *testing.T) {
	assert.Panics(t, func() {
		MustSchema(Property{Kind: KindBool})
	})
}
