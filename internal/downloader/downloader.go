package downloader

import (
	"archive/tar"
	"archive/zip"
	"bufio"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type ArchiveKind int

const (
	KindUnknown ArchiveKind = iota
	KindZip
	KindGzip
	KindTar
)

func (k ArchiveKind) String() string {
	switch k {
	case KindZip:
		return "zip"
	case KindGzip:
		return "gzip"
	case KindTar:
		return "tar"
	default:
		return "unknown"
	}
}

var (
	ErrUnsupportedArchive = errors.New("unsupported archive format")
	ErrUnsafePath         = errors.New("archive entry escapes destination")
)

// MaxEntrySize caps a single extracted file.
const MaxEntrySize = 8 << 30

var (
	zipMagic  = []byte{0x50, 0x4B, 0x03, 0x04}
	gzipMagic = []byte{0x1F, 0x8B}
	tarMagic  = []byte("ustar")
)

// DetectKind sniffs the archive format from the first bytes of header, which
// should hold at least 262 bytes for tar detection.
func DetectKind(header []byte) ArchiveKind {
	switch {
	case bytes.HasPrefix(header, zipMagic):
		return KindZip
	case bytes.HasPrefix(header, gzipMagic):
		return KindGzip
	case len(header) >= 262 && bytes.Equal(header[257:262], tarMagic):
		return KindTar
	default:
		return KindUnknown
	}
}

func detectFile(path string) (ArchiveKind, error) {
	f, err := os.Open(path)
	if err != nil {
		return KindUnknown, err
	}
	defer func() { _ = f.Close() }()

	header := make([]byte, 512)
	n, err := io.ReadFull(f, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return KindUnknown, err
	}
	return DetectKind(header[:n]), nil
}

const bundlesDir = "bundles"

// ResolveBundle returns a directory holding the bundle files. A directory is
// returned as is; an archive is extracted under dataDir/bundles.
func ResolveBundle(path, dataDir string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("failed to stat bundle: %w", err)
	}
	if info.IsDir() {
		return path, nil
	}

	kind, err := detectFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read bundle header: %w", err)
	}
	if kind == KindUnknown {
		return "", fmt.Errorf("%s: %w", path, ErrUnsupportedArchive)
	}

	dest := filepath.Join(dataDir, bundlesDir, archiveStem(filepath.Base(path)))
	if err := os.RemoveAll(dest); err != nil {
		return "", fmt.Errorf("failed to clear extraction dir: %w", err)
	}
	if err := os.MkdirAll(dest, 0755); err != nil {
		return "", fmt.Errorf("failed to create extraction dir: %w", err)
	}

	slog.Info("Extracting bundle", "archive", path, "kind", kind, "dest", dest)
	switch kind {
	case KindZip:
		err = ExtractZip(path, dest)
	default:
		var f *os.File
		f, err = os.Open(path)
		if err != nil {
			return "", fmt.Errorf("failed to open archive: %w", err)
		}
		err = ExtractTar(f, dest)
		_ = f.Close()
	}
	if err != nil {
		return "", fmt.Errorf("failed to extract %s: %w", path, err)
	}
	return dest, nil
}

func archiveStem(name string) string {
	for _, ext := range []string{".tar.gz", ".tgz", ".tar", ".zip", ".gz"} {
		if strings.HasSuffix(strings.ToLower(name), ext) {
			return name[:len(name)-len(ext)]
		}
	}
	return name + ".d"
}

// safeJoin resolves an entry name inside dest, rejecting absolute paths and
// ".." escapes.
func safeJoin(dest, name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("%q: %w", name, ErrUnsafePath)
	}
	target := filepath.Join(dest, filepath.FromSlash(name))
	rel, err := filepath.Rel(dest, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%q: %w", name, ErrUnsafePath)
	}
	return target, nil
}

func writeFile(target string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	out, err := os.Create(target)
	if err != nil {
		return err
	}
	n, err := io.Copy(out, io.LimitReader(r, MaxEntrySize+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > MaxEntrySize {
		err = fmt.Errorf("%s exceeds %d bytes", target, int64(MaxEntrySize))
	}
	return err
}

func ExtractZip(src, dest string) error {
	zr, err := zip.OpenReader(src)
	if errors.Is(err, zip.ErrInsecurePath) {
		if zr != nil {
			_ = zr.Close()
		}
		return fmt.Errorf("%s: %w", src, ErrUnsafePath)
	}
	if err != nil {
		return err
	}
	defer func() { _ = zr.Close() }()

	for _, f := range zr.File {
		target, err := safeJoin(dest, f.Name)
		if err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", f.Name, err)
		}
		err = writeFile(target, rc)
		_ = rc.Close()
		if err != nil {
			return fmt.Errorf("failed to extract %s: %w", f.Name, err)
		}
	}
	return nil
}

// ExtractTar extracts a plain or gzip-compressed tar stream. Only regular
// files and directories are written; links are skipped.
func ExtractTar(r io.Reader, dest string) error {
	br := bufio.NewReaderSize(r, 512)
	if head, _ := br.Peek(len(gzipMagic)); bytes.Equal(head, gzipMagic) {
		gzr, err := gzip.NewReader(br)
		if err != nil {
			return err
		}
		defer func() { _ = gzr.Close() }()
		r = gzr
	} else {
		r = br
	}

	tr := tar.NewReader(r)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if errors.Is(err, tar.ErrInsecurePath) {
			return fmt.Errorf("%q: %w", header.Name, ErrUnsafePath)
		}
		if err != nil {
			return err
		}

		target, err := safeJoin(dest, header.Name)
		if err != nil {
			return err
		}
		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(target, tr); err != nil {
				return fmt.Errorf("failed to extract %s: %w", header.Name, err)
			}
		default:
			slog.Debug("Skipping non-regular tar entry", "name", header.Name, "type", header.Typeflag)
		}
	}
}

var httpClient = &http.Client{Timeout: 30 * time.Minute}

// FetchAndExtractBundle downloads an archive and extracts it under dataDir.
func FetchAndExtractBundle(url, dataDir string) (string, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data dir: %w", err)
	}

	slog.Info("Downloading bundle", "url", url)
	resp, err := httpClient.Get(url)
	if err != nil {
		return "", fmt.Errorf("download failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download failed with status: %d", resp.StatusCode)
	}

	name := filepath.Base(resp.Request.URL.Path)
	if name == "." || name == "/" || name == "" {
		name = "bundle"
	}
	tmp, err := os.CreateTemp(dataDir, "download-*-"+name)
	if err != nil {
		return "", fmt.Errorf("failed to create download file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("download interrupted: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	dir, err := ResolveBundle(tmp.Name(), dataDir)
	if err != nil {
		return "", err
	}
	slog.Info("Download and extraction complete", "path", dir)
	return dir, nil
}

// CleanupDataDir removes what this process put under dataDir: extracted
// bundles and the given files. dataDir itself is removed only when nothing
// else is left in it, so a user-chosen directory keeps its own content.
func CleanupDataDir(dataDir string, files ...string) error {
	var errs []error
	if err := os.RemoveAll(filepath.Join(dataDir, bundlesDir)); err != nil {
		errs = append(errs, err)
	}
	for _, f := range files {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	entries, err := os.ReadDir(dataDir)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		errs = append(errs, err)
	case len(entries) == 0:
		if err := os.Remove(dataDir); err != nil {
			errs = append(errs, err)
		}
	default:
		slog.Debug("Keeping non-empty data directory", "path", dataDir, "entries", len(entries))
	}
	return errors.Join(errs...)
}
