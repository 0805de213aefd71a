package instrument

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCategory(t *testing.T) {
	tests := []struct {
		in      string
		want    Category
		wantErr bool
	}{
		{"page_load", PageLoad, false},
		{"PAGE-LOAD", PageLoad, false},
		{" fetch ", Fetch, false},
		{"user_interaction", UserInteraction, false},
		{"xhr", XHR, false},
		{"websocket", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCategory(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseSet(t *testing.T) {
	t.Run("empty means manual only", func(t *testing.T) {
		s, err := ParseSet(nil)
		require.NoError(t, err)
		assert.True(t, s.Empty())

		s, err = ParseSet([]string{"", "  "})
		require.NoError(t, err)
		assert.True(t, s.Empty())
	})

	t.Run("all", func(t *testing.T) {
		s, err := ParseSet([]string{"all"})
		require.NoError(t, err)
		for _, c := range Categories {
			assert.True(t, s.Has(c), c)
		}
	})

	t.Run("subset sorted and deduplicated", func(t *testing.T) {
		s, err := ParseSet([]string{"xhr", "fetch, xhr"})
		require.NoError(t, err)
		assert.Equal(t, []string{"fetch", "xhr"}, s.Strings())
		assert.False(t, s.Has(PageLoad))
	})

	t.Run("unknown category", func(t *testing.T) {
		_, err := ParseSet([]string{"fetch", "clicks"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "clicks")
	})
}
