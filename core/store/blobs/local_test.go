package blobs

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalPutGetDelete(t *testing.T) {
	ctx := context.Background()
	driver, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	content := []byte("hello blob")
	require.NoError(t, driver.Put(ctx, "key1", "text/plain", bytes.NewReader(content)))

	r, contentType, err := driver.Get(ctx, "key1")
	require.NoError(t, err)
	defer r.Close()
	read, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, content, read)
	assert.Equal(t, "text/plain", contentType)

	require.NoError(t, driver.Delete(ctx, "key1"))
	_, _, err = driver.Get(ctx, "key1")
	assert.Equal(t, ErrNoBlob, err)
	assert.Equal(t, ErrNoBlob, driver.Delete(ctx, "key1"))
}

func TestLocalOverwrite(t *testing.T) {
	ctx := context.Background()
	driver, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, driver.Put(ctx, "key1", "text/plain", bytes.NewReader([]byte("one"))))
	require.NoError(t, driver.Put(ctx, "key1", "application/json", bytes.NewReader([]byte("two"))))

	r, contentType, err := driver.Get(ctx, "key1")
	require.NoError(t, err)
	defer r.Close()
	read, _ := io.ReadAll(r)
	assert.Equal(t, []byte("two"), read)
	assert.Equal(t, "application/json", contentType)
}

func TestLocalMissingKey(t *testing.T) {
	ctx := context.Background()
	driver, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	_, _, err = driver.Get(ctx, "nonsense")
	assert.Equal(t, ErrNoBlob, err)
}
