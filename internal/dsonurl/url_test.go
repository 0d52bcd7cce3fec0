package dsonurl

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse_AllParts(t *testing.T) {
	u := Parse("scheme:path#fragment?query")
	assert.Equal(t, "scheme", u.Scheme())
	assert.Equal(t, "path", u.Path())
	assert.Equal(t, "fragment", u.Fragment())
	assert.Equal(t, "query", u.Query())
	assert.Equal(t, "scheme:path#fragment?query", u.String())
}

func TestParse_EscapedPartsArePreserved(t *testing.T) {
	u := Parse("sch%20eme:pa%20th#frag%20ment?que%20ry")
	assert.Equal(t, "sch%20eme:pa%20th#frag%20ment?que%20ry", u.String())
	assert.Equal(t, "sch eme", u.Scheme())
	assert.Equal(t, "pa th", u.Path())
	assert.Equal(t, "frag ment", u.Fragment())
	assert.Equal(t, "que ry", u.Query())
}

func TestParse_SchemeRules(t *testing.T) {
	tests := []struct {
		in     string
		scheme string
		path   string
	}{
		{"/data/fig.dsf#hip", "", "/data/fig.dsf"},
		{"rCollar:#CTRLMD_N_XRotate_n30?value", "rCollar", ""},
		{"lEye:/data/DAZ%203D/fig.dsf#lEye?rotation/x", "lEye", "/data/DAZ 3D/fig.dsf"},
		{"~grandparent:#Smile?value", "~grandparent", ""},
		// A colon at position zero never starts a scheme.
		{":oops#x", "", ":oops"},
		// Spaces are not scheme characters.
		{"not a scheme:/x#y", "", "not a scheme:/x"},
	}
	for _, tt := range tests {
		u := Parse(tt.in)
		assert.Equal(t, tt.scheme, u.Scheme(), tt.in)
		assert.Equal(t, tt.path, u.Path(), tt.in)
	}
}

func TestParse_TildeScheme(t *testing.T) {
	u := Parse("~grandparent:/data/fig/Figure.dsf#Smile?value")
	assert.Equal(t, "~grandparent", u.Scheme())
	assert.Equal(t, "/data/fig/Figure.dsf", u.Path())
	assert.Equal(t, "Smile", u.Fragment())
	assert.Equal(t, "value", u.Query())
	assert.Equal(t, "~grandparent:/data/fig/Figure.dsf#Smile?value", u.String())
}

func TestParse_QuerySplitBeforeFragment(t *testing.T) {
	u := Parse("#a?b#c")
	assert.Equal(t, "a", u.Fragment())
	assert.Equal(t, "b#c", u.Query())
}

func TestSetters_Escape(t *testing.T) {
	u := Parse("scheme:path#fragment?query")
	u.SetScheme("test%")
	assert.Equal(t, "test%25", u.EscapedScheme())

	u.SetEscapedPath("%70 test")
	assert.Equal(t, "p test", u.Path())
	assert.Equal(t, "%70 test", u.EscapedPath())
	assert.Equal(t, "test%25:%70 test#fragment?query", u.String())

	u.SetFragment("a b")
	u.SetQuery("translation/x")
	assert.Equal(t, "a%20b", u.EscapedFragment())
	assert.Equal(t, "translation/x", u.EscapedQuery())
}

func TestEquality_UsesEscapedForm(t *testing.T) {
	assert.Equal(t, Parse("/path"), Parse("/path"))
	assert.NotEqual(t, Parse("/path"), Parse("/%70ath"))
}

func TestUnescape_Malformed(t *testing.T) {
	assert.Equal(t, "100%", Unescape("100%"))
	assert.Equal(t, "%zz", Unescape("%zz"))
	assert.Equal(t, "a b", Unescape("a%20b"))
}

func TestAssetID_Canonical(t *testing.T) {
	a := AssetIDString("/data/DAZ%203D/Fig.dsf#Genesis3Female")
	b := AssetIDString("/data/daz 3d/fig.dsf#Genesis3Female")
	assert.Equal(t, a, b)
	assert.Equal(t, "/data/daz%203d/fig.dsf#Genesis3Female", a)

	// Fragments keep their case.
	assert.NotEqual(t, a, AssetIDString("/data/daz 3d/fig.dsf#genesis3female"))
}
