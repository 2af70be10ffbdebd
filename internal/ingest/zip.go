package ingest

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// ExtractZIP extracts every file of the archive into destDir and returns the
// extracted paths.
func ExtractZIP(zipPath, destDir string) ([]string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, eris.Wrap(err, "zip: open archive")
	}
	defer r.Close() //nolint:errcheck

	var out []string
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		p, err := extractEntry(f, destDir)
		if err != nil {
			return out, err
		}
		out = append(out, p)
	}
	return out, nil
}

// ExtractShapefile extracts a zipped shapefile bundle and returns the path of
// its single .shp member.
func ExtractShapefile(zipPath, destDir string) (string, error) {
	files, err := ExtractZIP(zipPath, destDir)
	if err != nil {
		return "", err
	}
	var shp []string
	for _, f := range files {
		if strings.EqualFold(filepath.Ext(f), ".shp") {
			shp = append(shp, f)
		}
	}
	if len(shp) != 1 {
		return "", eris.Errorf("zip: expected exactly 1 .shp in %s, got %d", filepath.Base(zipPath), len(shp))
	}
	return shp[0], nil
}

func extractEntry(f *zip.File, destDir string) (string, error) {
	destPath := filepath.Join(destDir, f.Name)
	if !strings.HasPrefix(filepath.Clean(destPath), filepath.Clean(destDir)+string(os.PathSeparator)) {
		return "", eris.Errorf("zip: illegal path %q (zip slip attempt)", f.Name)
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return "", eris.Wrap(err, "zip: create parent directory")
	}

	rc, err := f.Open()
	if err != nil {
		return "", eris.Wrap(err, "zip: open entry")
	}
	defer rc.Close() //nolint:errcheck

	out, err := os.Create(destPath)
	if err != nil {
		return "", eris.Wrap(err, "zip: create file")
	}
	defer out.Close() //nolint:errcheck

	if _, err := io.Copy(out, rc); err != nil {
		return "", eris.Wrap(err, "zip: write file")
	}
	return destPath, nil
}
