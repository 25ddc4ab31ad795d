package clients

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FileStore persists a generated export and returns a URL the user can download it from.
type FileStore interface {
	Upload(ctx context.Context, fileName string, data []byte) (string, error)
}

// StorageClient keeps exports on the local disk and serves them under PublicPrefix.
type StorageClient struct {
	BaseDir      string
	PublicPrefix string
	BaseURL      string // optional scheme+host for absolute links
}

func NewLocalStorage(baseDir, publicPrefix, baseURL string) (*StorageClient, error) {
	if baseDir == "" {
		baseDir = "./exports"
	}
	if publicPrefix == "" {
		publicPrefix = "/files"
	}
	if !strings.HasPrefix(publicPrefix, "/") {
		publicPrefix = "/" + publicPrefix
	}

	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure storage dir %q: %w", baseDir, err)
	}

	return &StorageClient{
		BaseDir:      baseDir,
		PublicPrefix: strings.TrimRight(publicPrefix, "/"),
		BaseURL:      strings.TrimRight(baseURL, "/"),
	}, nil
}

// Save writes data as "<id>_<name>" and returns the stored name. The write is atomic.
func (s *StorageClient) Save(ctx context.Context, fileName string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	stored := id + "_" + filepath.Base(fileName)

	path := filepath.Join(s.BaseDir, stored)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", stored, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("finalize %s: %w", stored, err)
	}
	return stored, nil
}

func (s *StorageClient) Upload(ctx context.Context, fileName string, data []byte) (string, error) {
	stored, err := s.Save(ctx, fileName, data)
	if err != nil {
		return "", err
	}
	return s.GetURL(stored), nil
}

// GetURL returns an absolute link when BaseURL is set, a path otherwise.
func (s *StorageClient) GetURL(storedName string) string {
	return s.BaseURL + s.PublicPrefix + "/" + url.PathEscape(storedName)
}

// contentDisposition names the download after the original file. Non-ASCII names
// get an RFC 5987 filename* next to a plain fallback.
func contentDisposition(name string) string {
	ascii := strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII || r == '"' || r == '\\' {
			return '_'
		}
		return r
	}, name)
	if ascii == name {
		return fmt.Sprintf("attachment; filename=%q", name)
	}
	return fmt.Sprintf("attachment; filename=%q; filename*=UTF-8''%s", ascii, url.PathEscape(name))
}

// ServeFile serves a stored export. The route must define a {file} parameter.
func (s *StorageClient) ServeFile(w http.ResponseWriter, r *http.Request) {
	param, err := url.PathUnescape(chi.URLParam(r, "file"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	file := filepath.Base(param)
	if file == "." || file == "/" || strings.HasSuffix(file, ".tmp") {
		http.NotFound(w, r)
		return
	}

	path := filepath.Join(s.BaseDir, file)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			http.NotFound(w, r)
			return
		}
		http.Error(w, "failed to access file", http.StatusInternalServerError)
		return
	}

	orig := file
	if _, name, ok := strings.Cut(file, "_"); ok {
		orig = name
	}
	w.Header().Set("Content-Disposition", contentDisposition(orig))
	w.Header().Set("Cache-Control", "private, no-store")
	http.ServeFile(w, r, path)
}

// CleanupOlderThan deletes files older than maxAge and returns how many it removed.
func (s *StorageClient) CleanupOlderThan(maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	err := filepath.WalkDir(s.BaseDir, func(path string, de fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if de.IsDir() {
			return nil
		}
		info, err := de.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil {
			zap.L().Warn("storage cleanup: remove failed", zap.String("path", path), zap.Error(err))
			return nil
		}
		removed++
		return nil
	})
	return removed, err
}

// RunCleanup removes expired exports every interval until ctx is done.
func (s *StorageClient) RunCleanup(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.CleanupOlderThan(maxAge)
			if err != nil {
				zap.L().Error("storage cleanup failed", zap.Error(err))
				continue
			}
			if n > 0 {
				zap.L().Info("expired exports removed", zap.Int("count", n))
			}
		}
	}
}
