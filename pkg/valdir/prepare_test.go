package valdir

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

type member struct {
	name     string
	body     string
	typeflag byte
	linkname string
}

func file(name, body string) member { return member{name: name, body: body, typeflag: tar.TypeReg} }

func tarBytes(t *testing.T, members []member) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, m := range members {
		hdr := &tar.Header{
			Name:     m.name,
			Typeflag: m.typeflag,
			Linkname: m.linkname,
			Mode:     0o644,
			Size:     int64(len(m.body)),
		}
		if m.typeflag != tar.TypeReg {
			hdr.Size = 0
		}
		if m.typeflag == tar.TypeDir {
			hdr.Mode = 0o755
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("failed to write header: %v", err)
		}
		if hdr.Size > 0 {
			if _, err := tw.Write([]byte(m.body)); err != nil {
				t.Fatalf("failed to write body: %v", err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("failed to close tar: %v", err)
	}
	return buf.Bytes()
}

func compress(t *testing.T, c Compression, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	var w io.WriteCloser
	switch c {
	case CompressionNone:
		return data
	case CompressionGzip:
		w = gzip.NewWriter(&buf)
	case CompressionZstd:
		zw, err := zstd.NewWriter(&buf)
		if err != nil {
			t.Fatalf("failed to create zstd writer: %v", err)
		}
		w = zw
	case CompressionLZ4:
		w = lz4.NewWriter(&buf)
	case CompressionS2:
		w = s2.NewWriter(&buf)
	default:
		t.Fatalf("unknown compression %s", c)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatalf("failed to compress: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}
	return buf.Bytes()
}

// setup writes the archive and both list files into a fresh directory and
// returns the archive path and the output directory.
func setup(t *testing.T, archive []byte, categories, labels string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "val.tar")
	writeTestFile(t, archivePath, string(archive))
	writeTestFile(t, filepath.Join(dir, DefaultCategoryList), categories)
	writeTestFile(t, filepath.Join(dir, DefaultFileCategoryList), labels)
	return archivePath, filepath.Join(dir, "out")
}

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

// tree lists every regular file below dir as slash-separated relative paths.
func tree(t *testing.T, dir string) []string {
	t.Helper()
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		t.Fatalf("failed to walk %s: %v", dir, err)
	}
	sort.Strings(files)
	return files
}

var validationImages = []member{
	file("img_003.jpg", "c"),
	file("img_001.jpg", "a"),
	file("img_002.jpg", "b"),
}

func TestPrepare_SortsIntoCategories(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionGzip, CompressionZstd, CompressionLZ4, CompressionS2} {
		t.Run(string(c), func(t *testing.T) {
			archive := compress(t, c, tarBytes(t, validationImages))
			archivePath, outDir := setup(t, archive, "cat\ndog\n", "dog\ncat\ndog\n")

			summary, err := Prepare(context.Background(), Options{Archive: archivePath, OutDir: outDir})
			if err != nil {
				t.Fatalf("Prepare failed: %v", err)
			}

			want := []string{"cat/img_002.jpg", "dog/img_001.jpg", "dog/img_003.jpg"}
			if diff := cmp.Diff(want, tree(t, outDir)); diff != "" {
				t.Errorf("output tree mismatch (-want +got):\n%s", diff)
			}

			if summary.Compression != c {
				t.Errorf("compression = %s, want %s", summary.Compression, c)
			}
			if summary.Moved != 3 || summary.Categories != 2 || summary.Members != 3 {
				t.Errorf("unexpected summary: %+v", summary)
			}
			if _, err := os.Stat(filepath.Join(outDir, tempDirName)); !os.IsNotExist(err) {
				t.Errorf("temporary directory was not removed: %v", err)
			}

			data, err := os.ReadFile(filepath.Join(outDir, "cat", "img_002.jpg"))
			if err != nil {
				t.Fatalf("failed to read moved file: %v", err)
			}
			if string(data) != "b" {
				t.Errorf("moved file content = %q, want b", data)
			}
		})
	}
}

func TestPrepare_PathTraversal(t *testing.T) {
	tests := []struct {
		name    string
		members []member
	}{
		{
			name:    "parent directory",
			members: []member{file("img_001.jpg", "a"), file("../evil", "x")},
		},
		{
			name:    "nested parent directory",
			members: []member{file("sub/../../evil", "x")},
		},
		{
			name:    "absolute path",
			members: []member{file("/tmp/evil", "x")},
		},
		{
			name:    "escaping symlink",
			members: []member{{name: "link", typeflag: tar.TypeSymlink, linkname: "../../etc"}},
		},
		{
			name:    "escaping hard link",
			members: []member{{name: "link", typeflag: tar.TypeLink, linkname: "../evil"}},
		},
		{
			name: "symlink chain",
			members: []member{
				{name: "l2", typeflag: tar.TypeSymlink, linkname: "."},
				{name: "l1", typeflag: tar.TypeSymlink, linkname: "l2/.."},
				{name: "l3", typeflag: tar.TypeSymlink, linkname: "l1/.."},
				file("l3/evil", "x"),
			},
		},
		{
			name: "parent of symlink",
			members: []member{
				{name: "here", typeflag: tar.TypeSymlink, linkname: "."},
				file("here/../../evil", "x"),
			},
		},
		{
			name: "file through symlink",
			members: []member{
				{name: "sub/link", typeflag: tar.TypeSymlink, linkname: ".."},
				file("sub/link/img_001.jpg", "a"),
			},
		},
		{
			name: "hard link through symlink",
			members: []member{
				{name: "link", typeflag: tar.TypeSymlink, linkname: "."},
				{name: "hard", typeflag: tar.TypeLink, linkname: "link/../evil"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			archivePath, outDir := setup(t, tarBytes(t, tt.members), "cat\n", "cat\n")

			_, err := Prepare(context.Background(), Options{Archive: archivePath, OutDir: outDir})
			if !errors.Is(err, ErrPathTraversal) {
				t.Fatalf("expected ErrPathTraversal, got %v", err)
			}

			// Nothing may be written, not even the members before the bad one.
			if _, err := os.Stat(outDir); !os.IsNotExist(err) {
				t.Errorf("output directory exists after rejected archive: %v", err)
			}
			if _, err := os.Stat(filepath.Join(filepath.Dir(outDir), "evil")); !os.IsNotExist(err) {
				t.Error("traversal target was written")
			}
		})
	}
}

func TestPrepare_MoreFilesThanLabels(t *testing.T) {
	archivePath, outDir := setup(t, tarBytes(t, validationImages), "cat\n", "cat\ncat\n")

	summary, err := Prepare(context.Background(), Options{Archive: archivePath, OutDir: outDir})
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}

	want := []string{"cat/img_001.jpg", "cat/img_002.jpg"}
	if diff := cmp.Diff(want, tree(t, outDir)); diff != "" {
		t.Errorf("output tree mismatch (-want +got):\n%s", diff)
	}
	if summary.Moved != 2 || summary.Skipped != 1 {
		t.Errorf("moved/skipped = %d/%d, want 2/1", summary.Moved, summary.Skipped)
	}
}

func TestPrepare_MoreLabelsThanFiles(t *testing.T) {
	archivePath, outDir := setup(t, tarBytes(t, validationImages[:1]), "cat\n", "cat\ncat\ncat\n")

	summary, err := Prepare(context.Background(), Options{Archive: archivePath, OutDir: outDir})
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if summary.Moved != 1 || summary.Unused != 2 {
		t.Errorf("moved/unused = %d/%d, want 1/2", summary.Moved, summary.Unused)
	}
}

func TestPrepare_UnknownCategory(t *testing.T) {
	archivePath, outDir := setup(t, tarBytes(t, validationImages[:1]), "cat\n", "bird\n")

	if _, err := Prepare(context.Background(), Options{Archive: archivePath, OutDir: outDir}); err == nil {
		t.Fatal("expected error moving into a category that was not created")
	}
}

func TestPrepare_ExplicitListsAndKeepTemp(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "val.tar.gz")
	writeTestFile(t, archivePath, string(compress(t, CompressionGzip, tarBytes(t, validationImages))))

	lists := filepath.Join(dir, "lists")
	if err := os.Mkdir(lists, 0o755); err != nil {
		t.Fatalf("failed to create lists dir: %v", err)
	}
	writeTestFile(t, filepath.Join(lists, "cats.txt"), "a\r\nb\r\n\n\n")
	writeTestFile(t, filepath.Join(lists, "labels.txt"), "a\nb\n")

	outDir := filepath.Join(dir, "out")
	summary, err := Prepare(context.Background(), Options{
		Archive:          archivePath,
		OutDir:           outDir,
		CategoryList:     filepath.Join(lists, "cats.txt"),
		FileCategoryList: filepath.Join(lists, "labels.txt"),
		KeepTemp:         true,
	})
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if summary.Categories != 2 {
		t.Errorf("categories = %d, want 2", summary.Categories)
	}

	want := []string{"a/img_001.jpg", "b/img_002.jpg", "tmpdir/img_003.jpg"}
	if diff := cmp.Diff(want, tree(t, outDir)); diff != "" {
		t.Errorf("output tree mismatch (-want +got):\n%s", diff)
	}
}

func TestPrepare_Errors(t *testing.T) {
	archive := tarBytes(t, validationImages)

	t.Run("missing archive path", func(t *testing.T) {
		if _, err := Prepare(context.Background(), Options{OutDir: t.TempDir()}); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("missing category list", func(t *testing.T) {
		archivePath, outDir := setup(t, archive, "cat\n", "cat\n")
		if err := os.Remove(filepath.Join(filepath.Dir(archivePath), DefaultCategoryList)); err != nil {
			t.Fatal(err)
		}
		if _, err := Prepare(context.Background(), Options{Archive: archivePath, OutDir: outDir}); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("blank line inside list", func(t *testing.T) {
		archivePath, outDir := setup(t, archive, "cat\n\ndog\n", "cat\n")
		if _, err := Prepare(context.Background(), Options{Archive: archivePath, OutDir: outDir}); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("category with separator", func(t *testing.T) {
		archivePath, outDir := setup(t, archive, "../cat\n", "cat\n")
		if _, err := Prepare(context.Background(), Options{Archive: archivePath, OutDir: outDir}); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("leftover temp dir", func(t *testing.T) {
		archivePath, outDir := setup(t, archive, "cat\n", "cat\n")
		if err := os.MkdirAll(filepath.Join(outDir, tempDirName), 0o755); err != nil {
			t.Fatal(err)
		}
		if _, err := Prepare(context.Background(), Options{Archive: archivePath, OutDir: outDir}); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("corrupt archive", func(t *testing.T) {
		archivePath, outDir := setup(t, []byte{0x1f, 0x8b, 0x00}, "cat\n", "cat\n")
		if _, err := Prepare(context.Background(), Options{Archive: archivePath, OutDir: outDir}); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("canceled context", func(t *testing.T) {
		archivePath, outDir := setup(t, archive, "cat\n", "cat\ncat\ncat\n")
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := Prepare(ctx, Options{Archive: archivePath, OutDir: outDir}); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestThroughLink(t *testing.T) {
	links := map[string]bool{"l2": true, "sub/link": true}
	tests := []struct {
		rel  string
		want bool
	}{
		{rel: "img_001.jpg", want: false},
		{rel: "l2", want: true},
		{rel: "l2/x", want: true},
		{rel: "./l2/..", want: true},
		{rel: "sub/x/../link/y", want: true},
		{rel: "sub/linked", want: false},
		{rel: "x/../l2", want: true},
		{rel: "l1", want: false},
	}
	for _, tt := range tests {
		if got := throughLink(tt.rel, links); got != tt.want {
			t.Errorf("throughLink(%q) = %v, want %v", tt.rel, got, tt.want)
		}
	}
}

func TestMemberPath(t *testing.T) {
	root := filepath.Join(t.TempDir(), "tmpdir")

	tests := []struct {
		name    string
		hdr     tar.Header
		wantErr bool
	}{
		{name: "plain file", hdr: tar.Header{Name: "a.jpg", Typeflag: tar.TypeReg}},
		{name: "dot dir", hdr: tar.Header{Name: "./", Typeflag: tar.TypeDir}},
		{name: "nested file", hdr: tar.Header{Name: "sub/a.jpg", Typeflag: tar.TypeReg}},
		{name: "inner dotdot", hdr: tar.Header{Name: "sub/../a.jpg", Typeflag: tar.TypeReg}},
		{name: "prefix sibling", hdr: tar.Header{Name: "../tmpdir2/a.jpg", Typeflag: tar.TypeReg}, wantErr: true},
		{name: "internal symlink", hdr: tar.Header{Name: "sub/link", Typeflag: tar.TypeSymlink, Linkname: "../a.jpg"}},
		{name: "absolute symlink", hdr: tar.Header{Name: "link", Typeflag: tar.TypeSymlink, Linkname: "/etc/passwd"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := memberPath(root, &tt.hdr)
			if (err != nil) != tt.wantErr {
				t.Errorf("memberPath() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
