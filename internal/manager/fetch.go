package manager

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"

	"tutor/internal/common/fsutil"
	"tutor/internal/registry"
	"tutor/pkg/types"
)

// download fetches rawURL into dir/name. The body is written to name.part and
// renamed into place only after a complete transfer. Progress is reported at
// most once per interval.
func download(ctx context.Context, client *http.Client, rawURL, dir, name string, interval time.Duration, progress func(string)) (types.Model, error) {
	if name == "" || !registry.IsWeightsFile(name) {
		u, err := url.Parse(rawURL)
		if err != nil {
			return types.Model{}, fmt.Errorf("model url: %w", err)
		}
		name = path.Base(u.Path)
	}
	if name == "" || name == "." || name == "/" {
		return types.Model{}, fmt.Errorf("cannot derive a file name from %s", rawURL)
	}
	absDir, err := fsutil.ResolveDir(dir)
	if err != nil {
		return types.Model{}, err
	}
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		return types.Model{}, fmt.Errorf("models dir: %w", err)
	}
	dest := filepath.Join(absDir, name)
	part := dest + ".part"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return types.Model{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return types.Model{}, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return types.Model{}, fmt.Errorf("download %s: %s", rawURL, resp.Status)
	}

	f, err := os.Create(part)
	if err != nil {
		return types.Model{}, fmt.Errorf("create %s: %w", part, err)
	}
	pw := &progressWriter{total: resp.ContentLength, every: rate.Sometimes{Interval: interval}, report: progress}
	n, err := io.Copy(f, io.TeeReader(resp.Body, pw))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && resp.ContentLength > 0 && n != resp.ContentLength {
		err = fmt.Errorf("short body: got %d of %d bytes", n, resp.ContentLength)
	}
	if err != nil {
		_ = os.Remove(part)
		if ctx.Err() != nil {
			return types.Model{}, ctx.Err()
		}
		return types.Model{}, fmt.Errorf("download: %w", err)
	}
	pw.final()
	if err := os.Rename(part, dest); err != nil {
		_ = os.Remove(part)
		return types.Model{}, fmt.Errorf("rename %s: %w", part, err)
	}
	return types.Model{ID: name, Name: fsutil.Stem(name), Path: dest, SizeBytes: n}, nil
}

type progressWriter struct {
	total  int64
	n      int64
	every  rate.Sometimes
	report func(string)
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.n += int64(len(b))
	p.every.Do(func() { p.report(p.message()) })
	return len(b), nil
}

func (p *progressWriter) final() { p.report(p.message()) }

func (p *progressWriter) message() string {
	if p.total > 0 {
		return fmt.Sprintf("downloading weights: %s / %s", humanize.Bytes(uint64(p.n)), humanize.Bytes(uint64(p.total)))
	}
	return fmt.Sprintf("downloading weights: %s", humanize.Bytes(uint64(p.n)))
}
