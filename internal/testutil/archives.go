// Package testutil builds small in-memory archives for tests.
package testutil

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"strings"
	"testing"
	"time"

	"github.com/blakesmith/ar"
	"github.com/cavaliercoder/go-cpio"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

// File is one archive member. Names ending in "/" are directories.
type File struct {
	Name    string
	Content string
}

var modTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func isDir(name string) bool {
	return strings.HasSuffix(name, "/")
}

func Zip(t testing.TB, files ...File) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		fh := &zip.FileHeader{Name: f.Name, Method: zip.Deflate, Modified: modTime}
		if isDir(f.Name) {
			fh.Method = zip.Store
		}
		w, err := zw.CreateHeader(fh)
		require.NoError(t, err)
		if !isDir(f.Name) {
			_, err = w.Write([]byte(f.Content))
			require.NoError(t, err)
		}
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// ZipMethod stores one file raw under a compression method id. Ids that no
// decompressor is registered for make the entry unreadable.
func ZipMethod(t testing.TB, method uint16, f File) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.CreateRaw(&zip.FileHeader{
		Name:               f.Name,
		Method:             method,
		Modified:           modTime,
		CompressedSize64:   uint64(len(f.Content)),
		UncompressedSize64: uint64(len(f.Content)),
	})
	require.NoError(t, err)
	_, err = w.Write([]byte(f.Content))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func Tar(t testing.TB, files ...File) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, f := range files {
		th := &tar.Header{Name: f.Name, Mode: 0o644, Size: int64(len(f.Content)), ModTime: modTime, Typeflag: tar.TypeReg}
		if isDir(f.Name) {
			th.Typeflag = tar.TypeDir
			th.Mode = 0o755
			th.Size = 0
		}
		require.NoError(t, tw.WriteHeader(th))
		if !isDir(f.Name) {
			_, err := tw.Write([]byte(f.Content))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func TarGz(t testing.TB, files ...File) []byte {
	t.Helper()
	return Gzip(t, Tar(t, files...))
}

func TarZst(t testing.TB, files ...File) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	_, err = zw.Write(Tar(t, files...))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TarXz(t testing.TB, files ...File) []byte {
	t.Helper()
	var buf bytes.Buffer
	xw, err := xz.NewWriter(&buf)
	require.NoError(t, err)
	_, err = xw.Write(Tar(t, files...))
	require.NoError(t, err)
	require.NoError(t, xw.Close())
	return buf.Bytes()
}

func Gzip(t testing.TB, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	_, err := gw.Write(data)
	require.NoError(t, err)
	require.NoError(t, gw.Close())
	return buf.Bytes()
}

func Ar(t testing.TB, files ...File) []byte {
	t.Helper()
	var buf bytes.Buffer
	aw := ar.NewWriter(&buf)
	require.NoError(t, aw.WriteGlobalHeader())
	for _, f := range files {
		require.NoError(t, aw.WriteHeader(&ar.Header{Name: f.Name, ModTime: modTime, Mode: 0o644, Size: int64(len(f.Content))}))
		_, err := aw.Write([]byte(f.Content))
		require.NoError(t, err)
	}
	return buf.Bytes()
}

func Cpio(t testing.TB, files ...File) []byte {
	t.Helper()
	var buf bytes.Buffer
	cw := cpio.NewWriter(&buf)
	for _, f := range files {
		require.NoError(t, cw.WriteHeader(&cpio.Header{Name: f.Name, Mode: 0o644, ModTime: modTime, Size: int64(len(f.Content))}))
		_, err := cw.Write([]byte(f.Content))
		require.NoError(t, err)
	}
	require.NoError(t, cw.Close())
	return buf.Bytes()
}

// Names returns the file names in order.
func Names(files ...File) []string {
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.Name)
	}
	return names
}
