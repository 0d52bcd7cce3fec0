package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSniffAssetType(t *testing.T) {
	cases := []struct {
		name   string
		head   string
		typ    string
		wantOK bool
	}{
		{"complete", `{"asset_info": {"id": "/a.dsf", "type": "modifier", "revision": "1.0"}, "modifier_library": []}`, "modifier", true},
		{"truncated after asset_info", `{"asset_info": {"type": "figure", "revision": "1"}, "geometry_library": [{"vertices": [1, 2,`, "figure", true},
		{"nested contributor", `{"asset_info": {"contributor": {"type": "person", "email": "x"}, "type": "modifier", "revision": "1"}`, "modifier", true},
		{"truncated inside asset_info", `{"asset_info": {"type": "modifier", "rev`, "", false},
		{"no revision", `{"asset_info": {"type": "modifier"}, "x": 1}`, "", false},
		{"empty", ``, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			typ, ok := sniffAssetType([]byte(tc.head))
			assert.Equal(t, tc.wantOK, ok)
			assert.Equal(t, tc.typ, typ)
		})
	}
}
