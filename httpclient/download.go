package httpclient

import (
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
)

// Download is a file response handed to the caller unparsed. The caller must
// close it, or consume it with WriteTo or SaveAs.
type Download struct {
	Body        io.ReadCloser
	ContentType string
	Filename    string
	// Size is -1 when the server did not announce it.
	Size int64
}

func newDownload(resp *http.Response) *Download {
	d := &Download{
		Body:        resp.Body,
		ContentType: resp.Header.Get("Content-Type"),
		Size:        resp.ContentLength,
	}
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		d.Filename = filepath.Base(params["filename"])
		if d.Filename == "." || d.Filename == "/" {
			d.Filename = ""
		}
	}
	return d
}

func (d *Download) Close() error {
	return d.Body.Close()
}

// WriteTo copies the file to w and closes the body.
func (d *Download) WriteTo(w io.Writer) (int64, error) {
	defer d.Body.Close()
	return io.Copy(w, d.Body)
}

// SaveAs writes the file to path, or to dir/Filename when path is a directory.
func (d *Download) SaveAs(path string) (string, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		name := d.Filename
		if name == "" {
			name = "download"
		}
		path = filepath.Join(path, name)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		d.Body.Close()
		return "", err
	}
	if _, err := d.WriteTo(f); err != nil {
		f.Close()
		return "", err
	}
	return path, f.Close()
}
