// Package storage はアップロードされた動画ファイルのローカル保存を提供します。
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// sniffLen は MIME 判定に読む先頭バイト数です（mimetype の既定読み取り長と同じ）。
const sniffLen = 3072

var (
	// ErrNotVideo はアップロードされたファイルが動画でない場合に返されます。
	ErrNotVideo = errors.New("only video files are allowed")
	// ErrTooLarge はファイルサイズが上限を超えた場合に返されます。
	ErrTooLarge = errors.New("file exceeds the upload size limit")
)

// StoredFile は保存済みファイルのメタデータです。
type StoredFile struct {
	Filename     string
	OriginalName string
	Size         int64
	Mimetype     string
}

// Local はローカルディスク上のディレクトリに動画を保存します。
type Local struct {
	dir     string
	maxSize int64
}

// NewLocal は保存先ディレクトリを作成し、Local を返します。
func NewLocal(dir string, maxSize int64) (*Local, error) {
	if dir == "" {
		return nil, fmt.Errorf("upload dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Local{dir: dir, maxSize: maxSize}, nil
}

// Path は保存名に対応する絶対パスを返します。ディレクトリ成分は取り除きます。
func (l *Local) Path(filename string) string {
	return filepath.Join(l.dir, filepath.Base(filename))
}

// Exists はファイルが存在し、通常ファイルであるかを返します。
func (l *Local) Exists(_ context.Context, filename string) (bool, error) {
	if filename == "" {
		return false, nil
	}
	info, err := os.Stat(l.Path(filename))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

// SaveVideo はマルチパートで受け取ったファイルを検証して保存します。
// 内容から MIME を判定し、video/* 以外は ErrNotVideo を返します。
func (l *Local) SaveVideo(ctx context.Context, fh *multipart.FileHeader) (*StoredFile, error) {
	if fh == nil {
		return nil, fmt.Errorf("file header is nil")
	}
	if l.maxSize > 0 && fh.Size > l.maxSize {
		return nil, ErrTooLarge
	}

	src, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(src, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	head = head[:n]

	mt := mimetype.Detect(head)
	if !isVideo(mt) {
		return nil, ErrNotVideo
	}

	ext := strings.ToLower(filepath.Ext(fh.Filename))
	if ext == "" {
		ext = mt.Extension()
	}
	name := uuid.NewString() + ext
	dstPath := l.Path(name)

	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	reader := io.MultiReader(bytes.NewReader(head), src)
	if l.maxSize > 0 {
		reader = io.LimitReader(reader, l.maxSize+1)
	}
	written, copyErr := io.Copy(dst, &ctxReader{ctx: ctx, r: reader})
	closeErr := dst.Close()
	switch {
	case copyErr != nil:
		_ = os.Remove(dstPath)
		return nil, fmt.Errorf("write file: %w", copyErr)
	case closeErr != nil:
		_ = os.Remove(dstPath)
		return nil, fmt.Errorf("close file: %w", closeErr)
	case l.maxSize > 0 && written > l.maxSize:
		_ = os.Remove(dstPath)
		return nil, ErrTooLarge
	}

	return &StoredFile{
		Filename:     name,
		OriginalName: filepath.Base(fh.Filename),
		Size:         written,
		Mimetype:     mt.String(),
	}, nil
}

// Delete はファイルを削除します。存在しない場合はエラーにしません。
func (l *Local) Delete(_ context.Context, filename string) error {
	if filename == "" {
		return nil
	}
	if err := os.Remove(l.Path(filename)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func isVideo(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "video/") {
			return true
		}
	}
	return false
}

// ctxReader はコピー中にリクエストのキャンセルを検知します。
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
