package output

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONFileHandlerWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tx_hashes.json")
	h := NewJSONFileHandler(path)

	require.NoError(t, h.WriteIdentifiers(context.Background(), []string{"aa", "bb"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[\n    \"aa\",\n    \"bb\"\n]", string(data))

	ids, err := ReadIdentifiers(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"aa", "bb"}, ids)
}

func TestJSONFileHandlerOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tx_hashes.json")
	h := NewJSONFileHandler(path)

	require.NoError(t, h.WriteIdentifiers(context.Background(), []string{"aa", "bb", "cc"}))
	require.NoError(t, h.WriteIdentifiers(context.Background(), []string{"dd"}))

	ids, err := ReadIdentifiers(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"dd"}, ids)
}

func TestMarshalIdentifiersEmpty(t *testing.T) {
	data, err := MarshalIdentifiers(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestJSONFileHandlerWriteFailure(t *testing.T) {
	h := NewJSONFileHandler(filepath.Join(t.TempDir(), "missing-dir", "tx_hashes.json"))
	err := h.WriteIdentifiers(context.Background(), []string{"aa"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to write identifier list")
}

func TestReadIdentifiers(t *testing.T) {
	cases := []struct {
		name    string
		content *string
		want    []string
		wantErr error
	}{
		{name: "missing file", wantErr: ErrIdentifiersNotFound},
		{name: "valid list", content: ptr(`["a","b","a"]`), want: []string{"a", "b", "a"}},
		{name: "empty list", content: ptr(`[]`), want: []string{}},
		{name: "invalid json", content: ptr(`[`), wantErr: ErrIdentifiersMalformed},
		{name: "object", content: ptr(`{"a":1}`), wantErr: ErrIdentifiersMalformed},
		{name: "numbers", content: ptr(`[1,2]`), wantErr: ErrIdentifiersMalformed},
		{name: "null", content: ptr(`null`), wantErr: ErrIdentifiersMalformed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "tx_hashes.json")
			if tc.content != nil {
				require.NoError(t, os.WriteFile(path, []byte(*tc.content), 0o644))
			}

			ids, err := ReadIdentifiers(path)
			if tc.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, ids)
		})
	}
}

func ptr(s string) *string { return &s }
