package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileFilters(t *testing.T) {
	t.Run("valid filters", func(t *testing.T) {
		filters, err := compileFilters([]string{".success == false", ".fee_lamports > 1000"})
		require.NoError(t, err)
		assert.Len(t, filters, 2)
	})

	t.Run("invalid filter", func(t *testing.T) {
		_, err := compileFilters([]string{".success =="})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse jq filter")
	})

	t.Run("no filters", func(t *testing.T) {
		filters, err := compileFilters(nil)
		require.NoError(t, err)
		assert.Empty(t, filters)
	})
}

func TestMatchesFilters(t *testing.T) {
	event := []byte(`{"signature":"sig1","success":false,"error_type":"slippage","fee_lamports":5000}`)

	tests := []struct {
		name    string
		filters []string
		want    bool
	}{
		{
			name:    "no filters matches everything",
			filters: nil,
			want:    true,
		},
		{
			name:    "matching filter",
			filters: []string{`.success == false`},
			want:    true,
		},
		{
			name:    "non-matching filter",
			filters: []string{`.success == true`},
			want:    false,
		},
		{
			name:    "all filters must match",
			filters: []string{`.success == false`, `.error_type == "compute budget"`},
			want:    false,
		},
		{
			name:    "field selection is truthy",
			filters: []string{`.error_type`},
			want:    true,
		},
		{
			name:    "missing field is falsy",
			filters: []string{`.nonexistent`},
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filters, err := compileFilters(tt.filters)
			require.NoError(t, err)
			assert.Equal(t, tt.want, matchesFilters(event, filters))
		})
	}
}

func TestMatchesFilters_InvalidJSON(t *testing.T) {
	filters, err := compileFilters([]string{`.success`})
	require.NoError(t, err)
	assert.False(t, matchesFilters([]byte("not json"), filters))
}

func TestLamportsToSOL(t *testing.T) {
	assert.Equal(t, "0.000005", lamportsToSOL(5000))
	assert.Equal(t, "1", lamportsToSOL(1_000_000_000))
	assert.Equal(t, "0", lamportsToSOL(0))
	assert.Equal(t, "2.5", lamportsToSOL(2_500_000_000))
}

func TestTruncateSignature(t *testing.T) {
	assert.Equal(t, "short", truncateSignature("short"))
	long := "5j7s6NiJS3JAkvgkoc18WVAsiSaciqpxB2A6ueCJP4tprA2TFg9wSyTLeYouxPBJ"
	got := truncateSignature(long)
	assert.Contains(t, got, "5j7s6NiJ")
	assert.Contains(t, got, "YouxPBJ")
}
