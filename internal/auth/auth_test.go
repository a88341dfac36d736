package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-intake/internal/model"
	"github.com/sells-group/lead-intake/internal/store"
)

type fakeSources map[string]*model.Source

func (f fakeSources) GetSource(_ context.Context, id string) (*model.Source, error) {
	if id == "broken" {
		return nil, errors.New("connection refused")
	}
	src, ok := f[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return src, nil
}

func TestAuthenticate(t *testing.T) {
	sources := fakeSources{
		"meta":     {ID: "meta", TenantID: "t1", APIKeyHash: HashKey("secret"), Active: true},
		"disabled": {ID: "disabled", TenantID: "t1", APIKeyHash: HashKey("secret"), Active: false},
	}
	a := New(sources)
	ctx := context.Background()

	tests := []struct {
		name    string
		source  string
		key     string
		wantErr error
	}{
		{"ok", "meta", "secret", nil},
		{"ok with whitespace", "meta", "  secret ", nil},
		{"missing key", "meta", "", ErrMissingKey},
		{"missing key beats unknown source", "nope", "", ErrMissingKey},
		{"unknown source", "nope", "secret", ErrUnknownSource},
		{"inactive source", "disabled", "secret", ErrUnknownSource},
		{"wrong key", "meta", "guess", ErrInvalidKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := a.Authenticate(ctx, tt.source, tt.key)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, src)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "t1", src.TenantID)
		})
	}
}

func TestAuthenticate_StoreError(t *testing.T) {
	a := New(fakeSources{})
	_, err := a.Authenticate(context.Background(), "broken", "secret")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownSource)
}

func TestGenerateKey(t *testing.T) {
	k1, err := GenerateKey()
	require.NoError(t, err)
	k2, err := GenerateKey()
	require.NoError(t, err)

	assert.NotEqual(t, k1, k2)
	assert.Len(t, k1, 3+48)
	assert.True(t, KeyMatches(HashKey(k1), k1))
	assert.False(t, KeyMatches(HashKey(k1), k2))
}
