package nodeid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	testCases := []struct {
		name         string
		rawID        string
		expectErr    bool
		expectedAddr *Address
	}{
		{
			name:  "nested parameter",
			rawID: "encoder.proj.weight",
			expectedAddr: &Address{
				Path: []PathSegment{NewPathSegment("encoder"), NewPathSegment("proj"), NewPathSegment("weight")},
			},
		},
		{
			name:  "positional children",
			rawID: "layers.0.bias",
			expectedAddr: &Address{
				Path: []PathSegment{NewPathSegment("layers"), NewPathSegment("0"), NewPathSegment("bias")},
			},
		},
		{
			name:  "indexed segment",
			rawID: "blocks[12].norm",
			expectedAddr: &Address{
				Path: []PathSegment{NewPathSegmentWithIndex("blocks", 12), NewPathSegment("norm")},
			},
		},
		{name: "error - empty path segment", rawID: "a..b", expectErr: true},
		{name: "error - invalid index", rawID: "a.b[x]", expectErr: true},
		{name: "error - empty string", rawID: "", expectErr: true},
		{name: "error - hyphen is not an identifier", rawID: "a.b-c", expectErr: true},
		{name: "error - identifier starting with a digit", rawID: "a.0b", expectErr: true},
		{name: "error - just a dot", rawID: ".", expectErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			addr, err := Parse(tc.rawID)

			if tc.expectErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, addr)
			assert.True(t, tc.expectedAddr.Equal(addr), "parsed %v, want %v", addr, tc.expectedAddr)
		})
	}
}

func TestMustParsePanics(t *testing.T) {
	assert.Panics(t, func() { MustParse("a..b") })
}
