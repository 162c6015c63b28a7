package valdir

import (
	"archive/tar"
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultCategoryList is the category list file name looked up next to
	// the archive.
	DefaultCategoryList = "category_list.txt"

	// DefaultFileCategoryList is the per-file category list file name looked
	// up next to the archive.
	DefaultFileCategoryList = "val_data_category_list.txt"

	tempDirName = "tmpdir"
)

// ErrPathTraversal is returned when an archive member would land outside the
// extraction directory.
var ErrPathTraversal = errors.New("attempted path traversal in tar file")

// Options configures one Prepare run.
type Options struct {
	// Archive is the tar file holding the validation images.
	Archive string

	// OutDir receives one subdirectory per category.
	OutDir string

	// CategoryList names one category per line. Defaults to
	// DefaultCategoryList next to the archive.
	CategoryList string

	// FileCategoryList gives the category of the n-th file in sorted
	// order on its n-th line. Defaults to DefaultFileCategoryList next to
	// the archive.
	FileCategoryList string

	// KeepTemp leaves the extraction directory in place.
	KeepTemp bool
}

func (o Options) withDefaults() Options {
	dir := filepath.Dir(o.Archive)
	if o.CategoryList == "" {
		o.CategoryList = filepath.Join(dir, DefaultCategoryList)
	}
	if o.FileCategoryList == "" {
		o.FileCategoryList = filepath.Join(dir, DefaultFileCategoryList)
	}
	return o
}

// Summary reports what Prepare did.
type Summary struct {
	Archive     string        `json:"archive"`
	OutDir      string        `json:"out_dir"`
	Compression Compression   `json:"compression"`
	Members     int           `json:"members"`
	Categories  int           `json:"categories"`
	Moved       int           `json:"moved"`
	Skipped     int           `json:"skipped"`
	Unused      int           `json:"unused_labels"`
	Duration    time.Duration `json:"duration"`
}

// Preparer sorts an archive of validation images into category directories.
type Preparer struct {
	logger zerolog.Logger
}

// NewPreparer creates a Preparer that logs through logger.
func NewPreparer(logger zerolog.Logger) *Preparer {
	return &Preparer{
		logger: logger.With().Str("component", "valdir").Logger(),
	}
}

// Prepare runs a Preparer that does not log.
func Prepare(ctx context.Context, opts Options) (*Summary, error) {
	return NewPreparer(zerolog.Nop()).Prepare(ctx, opts)
}

// Prepare extracts opts.Archive into <OutDir>/tmpdir, creates one directory
// per category and moves the extracted entries, in sorted name order, into
// the category on the same line of the per-file list. Pairing stops at the
// shorter of the two; entries left over are removed with the temporary
// directory. Every member is checked against path traversal before anything
// is written.
func (p *Preparer) Prepare(ctx context.Context, opts Options) (*Summary, error) {
	start := time.Now()

	if opts.Archive == "" {
		return nil, fmt.Errorf("archive path is required")
	}
	if opts.OutDir == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	opts = opts.withDefaults()

	categories, err := readList(opts.CategoryList)
	if err != nil {
		return nil, fmt.Errorf("failed to read category list: %w", err)
	}
	labels, err := readList(opts.FileCategoryList)
	if err != nil {
		return nil, fmt.Errorf("failed to read file category list: %w", err)
	}

	tmpDir := filepath.Join(opts.OutDir, tempDirName)
	if _, err := os.Stat(tmpDir); err == nil {
		return nil, fmt.Errorf("temporary directory %s already exists", tmpDir)
	}

	compression, members, err := checkArchive(ctx, opts.Archive, tmpDir)
	if err != nil {
		return nil, err
	}

	logger := p.logger.With().
		Str("archive", opts.Archive).
		Str("out_dir", opts.OutDir).
		Logger()
	logger.Info().
		Str("compression", string(compression)).
		Int("members", members).
		Int("categories", len(categories)).
		Msg("Archive checked")

	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create temporary directory: %w", err)
	}
	if err := p.extract(ctx, opts.Archive, tmpDir); err != nil {
		return nil, err
	}

	for _, category := range categories {
		if err := os.MkdirAll(filepath.Join(opts.OutDir, category), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create category directory: %w", err)
		}
	}

	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list extracted files: %w", err)
	}

	summary := &Summary{
		Archive:     opts.Archive,
		OutDir:      opts.OutDir,
		Compression: compression,
		Members:     members,
		Categories:  len(categories),
	}

	// os.ReadDir returns entries sorted by name.
	for i, entry := range entries {
		if i >= len(labels) {
			summary.Skipped = len(entries) - i
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		src := filepath.Join(tmpDir, entry.Name())
		dst := filepath.Join(opts.OutDir, labels[i], entry.Name())
		if err := os.Rename(src, dst); err != nil {
			return nil, fmt.Errorf("failed to move %s: %w", entry.Name(), err)
		}
		summary.Moved++
	}
	if len(labels) > len(entries) {
		summary.Unused = len(labels) - len(entries)
	}

	if summary.Skipped > 0 || summary.Unused > 0 {
		logger.Warn().
			Int("skipped", summary.Skipped).
			Int("unused_labels", summary.Unused).
			Msg("File and label counts differ")
	}

	if opts.KeepTemp {
		logger.Debug().Str("tmp_dir", tmpDir).Msg("Keeping temporary directory")
	} else if err := os.RemoveAll(tmpDir); err != nil {
		return nil, fmt.Errorf("failed to remove temporary directory: %w", err)
	}

	summary.Duration = time.Since(start)

	logger.Info().
		Int("moved", summary.Moved).
		Dur("duration", summary.Duration).
		Msg("Validation directory prepared")

	return summary, nil
}

// readList reads one entry per line, dropping the line terminator and any
// blank lines at the end of the file. Blank lines elsewhere are an error.
func readList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, strings.TrimSuffix(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			return nil, fmt.Errorf("%s:%d: empty entry", path, i+1)
		}
		if line == "." || line == ".." || strings.ContainsAny(line, `/\`) {
			return nil, fmt.Errorf("%s:%d: invalid category name %q", path, i+1, line)
		}
	}

	return lines, nil
}

// checkArchive reads every header of the archive and fails on the first
// member that would escape root. Paths that pass through an earlier symlink
// member are rejected as well, since the link is only resolved on disk.
// Nothing is written.
func checkArchive(ctx context.Context, archivePath, root string) (Compression, int, error) {
	a, err := openArchive(archivePath)
	if err != nil {
		return "", 0, err
	}
	defer a.Close()

	links := make(map[string]bool)
	members := 0
	for {
		if err := ctx.Err(); err != nil {
			return "", 0, err
		}
		hdr, err := a.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", 0, fmt.Errorf("failed to read archive: %w", err)
		}
		if _, err := memberPath(root, hdr); err != nil {
			return "", 0, err
		}
		if err := checkLinks(hdr, links); err != nil {
			return "", 0, err
		}
		if hdr.Typeflag == tar.TypeSymlink {
			links[path.Clean(filepath.ToSlash(hdr.Name))] = true
		}
		members++
	}

	return a.compression, members, nil
}

// extract writes the archive below root. Members are assumed to have passed
// checkArchive.
func (p *Preparer) extract(ctx context.Context, path, root string) error {
	a, err := openArchive(path)
	if err != nil {
		return err
	}
	defer a.Close()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := a.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read archive: %w", err)
		}

		target, err := memberPath(root, hdr)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			err = os.MkdirAll(target, 0o755)
		case tar.TypeReg:
			err = writeFile(target, a, hdr.FileInfo().Mode().Perm())
		case tar.TypeSymlink:
			if err = os.MkdirAll(filepath.Dir(target), 0o755); err == nil {
				err = os.Symlink(hdr.Linkname, target)
			}
		case tar.TypeLink:
			if err = os.MkdirAll(filepath.Dir(target), 0o755); err == nil {
				err = os.Link(filepath.Join(root, hdr.Linkname), target)
			}
		default:
			p.logger.Debug().
				Str("member", hdr.Name).
				Str("type", string(hdr.Typeflag)).
				Msg("Skipping unsupported archive member")
		}
		if err != nil {
			return fmt.Errorf("failed to extract %s: %w", hdr.Name, err)
		}
	}
}

func writeFile(target string, r io.Reader, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm|0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// memberPath returns where hdr lands below root, or ErrPathTraversal if the
// member or its link target would leave root.
func memberPath(root string, hdr *tar.Header) (string, error) {
	if filepath.IsAbs(hdr.Name) || strings.HasPrefix(hdr.Name, "/") {
		return "", fmt.Errorf("%w: %s", ErrPathTraversal, hdr.Name)
	}
	target := filepath.Join(root, hdr.Name)
	if !within(root, target) {
		return "", fmt.Errorf("%w: %s", ErrPathTraversal, hdr.Name)
	}

	switch hdr.Typeflag {
	case tar.TypeSymlink:
		if filepath.IsAbs(hdr.Linkname) || !within(root, filepath.Join(filepath.Dir(target), hdr.Linkname)) {
			return "", fmt.Errorf("%w: %s -> %s", ErrPathTraversal, hdr.Name, hdr.Linkname)
		}
	case tar.TypeLink:
		if filepath.IsAbs(hdr.Linkname) || !within(root, filepath.Join(root, hdr.Linkname)) {
			return "", fmt.Errorf("%w: %s -> %s", ErrPathTraversal, hdr.Name, hdr.Linkname)
		}
	}

	return target, nil
}

// checkLinks fails if hdr, or the target of a link member, is reached
// through one of the symlinks already seen.
func checkLinks(hdr *tar.Header, links map[string]bool) error {
	name := filepath.ToSlash(hdr.Name)
	if throughLink(name, links) {
		return fmt.Errorf("%w: %s passes through a symlink", ErrPathTraversal, hdr.Name)
	}

	var target string
	switch hdr.Typeflag {
	case tar.TypeSymlink:
		target = path.Dir(name) + "/" + filepath.ToSlash(hdr.Linkname)
	case tar.TypeLink:
		target = filepath.ToSlash(hdr.Linkname)
	default:
		return nil
	}
	if throughLink(target, links) {
		return fmt.Errorf("%w: %s -> %s passes through a symlink", ErrPathTraversal, hdr.Name, hdr.Linkname)
	}
	return nil
}

// throughLink walks the slash-separated path rel from the archive root the
// way the filesystem would, without cleaning it first, and reports whether
// any prefix names a symlink in links.
func throughLink(rel string, links map[string]bool) bool {
	var parts []string
	for _, c := range strings.Split(rel, "/") {
		switch c {
		case "", ".":
			continue
		case "..":
			if len(parts) > 0 {
				parts = parts[:len(parts)-1]
			}
			continue
		}
		parts = append(parts, c)
		if links[strings.Join(parts, "/")] {
			return true
		}
	}
	return false
}

func within(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
