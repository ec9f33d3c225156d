package storage

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// mp4Header は ftyp ボックスを持つ最小限の MP4 先頭バイト列です。
var mp4Header = []byte("\x00\x00\x00\x18ftypisom\x00\x00\x02\x00isomiso2")

func fileHeader(t *testing.T, name string, content []byte) *multipart.FileHeader {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("video", name)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest("POST", "/", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	require.NoError(t, req.ParseMultipartForm(1<<20))
	t.Cleanup(func() { _ = req.MultipartForm.RemoveAll() })
	return req.MultipartForm.File["video"][0]
}

func TestSaveVideo(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLocal(dir, 1<<20)
	require.NoError(t, err)

	content := append(append([]byte{}, mp4Header...), bytes.Repeat([]byte{0x01}, 4096)...)
	stored, err := l.SaveVideo(context.Background(), fileHeader(t, "gate camera.MP4", content))
	require.NoError(t, err)
	require.Equal(t, "gate camera.MP4", stored.OriginalName)
	require.Equal(t, ".mp4", filepath.Ext(stored.Filename))
	require.Equal(t, "video/mp4", stored.Mimetype)
	require.Equal(t, int64(len(content)), stored.Size)

	onDisk, err := os.ReadFile(l.Path(stored.Filename))
	require.NoError(t, err)
	require.Equal(t, content, onDisk)

	ok, err := l.Exists(context.Background(), stored.Filename)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, l.Delete(context.Background(), stored.Filename))
	ok, err = l.Exists(context.Background(), stored.Filename)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, l.Delete(context.Background(), stored.Filename))
}

func TestSaveVideoRejectsNonVideo(t *testing.T) {
	l, err := NewLocal(t.TempDir(), 1<<20)
	require.NoError(t, err)

	_, err = l.SaveVideo(context.Background(), fileHeader(t, "notes.mp4", []byte("just some text")))
	require.ErrorIs(t, err, ErrNotVideo)
}

func TestSaveVideoRejectsOversize(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLocal(dir, 64)
	require.NoError(t, err)

	content := append(append([]byte{}, mp4Header...), bytes.Repeat([]byte{0x01}, 128)...)
	_, err = l.SaveVideo(context.Background(), fileHeader(t, "big.mp4", content))
	require.ErrorIs(t, err, ErrTooLarge)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestPathStripsDirectories(t *testing.T) {
	l, err := NewLocal(t.TempDir(), 0)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(l.dir, "passwd"), l.Path("../../etc/passwd"))

	ok, err := l.Exists(context.Background(), "")
	require.NoError(t, err)
	require.False(t, ok)
}
