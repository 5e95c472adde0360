package inventory

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"hdlend/internal/errs"
)

func TestNormalizeTag(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "aa11bb22", want: "AA11BB22"},
		{in: "  AA11bb22  ", want: "AA11BB22"},
		{in: "0123456789abcdef01234567", want: "0123456789ABCDEF01234567"},
		{in: "AA11BB2", wantErr: true},
		{in: "0123456789abcdef012345678", wantErr: true},
		{in: "GG11BB22", wantErr: true},
		{in: "AA11-BB22", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeTag(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, errs.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeTagProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		raw := rapid.StringMatching(`[0-9a-fA-F]{8,24}`).Draw(t, "tag")

		got, err := NormalizeTag(raw)
		if err != nil {
			t.Fatalf("valid tag %q rejected: %v", raw, err)
		}
		if got != strings.ToUpper(raw) {
			t.Fatalf("NormalizeTag(%q) = %q", raw, got)
		}
		again, err := NormalizeTag(got)
		if err != nil || again != got {
			t.Fatalf("normalization is not idempotent for %q", got)
		}
	})
}
