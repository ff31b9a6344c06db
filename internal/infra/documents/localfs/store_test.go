package localfs

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/compliance-armada/internal/domain/document"
)

func TestStore_PutFetch(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	ref, err := s.Put(ctx, "policy.md", []byte("# Policy\n\nText."))
	require.NoError(t, err)

	doc, err := s.Fetch(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "policy.md", doc.Name)
	assert.Equal(t, []byte("# Policy\n\nText."), doc.Content)
}

func TestStore_NameIsSanitised(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	tests := []struct {
		name string
		want string
	}{
		{name: "../../etc/passwd", want: "passwd"},
		{name: "", want: "document"},
		{name: "/", want: "document"},
	}

	for _, tt := range tests {
		ref, err := s.Put(ctx, tt.name, []byte("x"))
		require.NoError(t, err)
		doc, err := s.Fetch(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, tt.want, doc.Name)
	}
}

func TestStore_FetchUnknown(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.Fetch(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, document.ErrDocumentNotFound)

	_, err = s.Fetch(context.Background(), "../outside")
	assert.ErrorIs(t, err, document.ErrDocumentNotFound)
}

func TestStore_Delete(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	ref, err := s.Put(ctx, "policy.md", []byte("Text."))
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, ref))
	_, err = s.Fetch(ctx, ref)
	assert.ErrorIs(t, err, document.ErrDocumentNotFound)

	require.NoError(t, s.Delete(ctx, ref), "deleting twice is not an error")
	assert.ErrorIs(t, s.Delete(ctx, "../outside"), document.ErrDocumentNotFound)
}
