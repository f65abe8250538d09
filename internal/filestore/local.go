package filestore

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xxxsen/mrag/internal/model"
)

type localConfig struct {
	Dir string `json:"dir"`
}

type localSource struct {
	dir string
}

func init() {
	Register("local", createLocalSource)
}

func createLocalSource(args interface{}) (Source, error) {
	config := &localConfig{}
	if err := decodeConfig(args, config); err != nil {
		return nil, err
	}
	if config.Dir == "" {
		return nil, fmt.Errorf("local source dir is required")
	}
	return &localSource{dir: config.Dir}, nil
}

// List walks the directory; keys are slash separated and relative to it.
func (s *localSource) List(ctx context.Context, prefix string) ([]model.ImportObject, error) {
	prefix = strings.TrimPrefix(path.Clean("/"+prefix), "/")
	var out []model.ImportObject
	err := filepath.WalkDir(s.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.dir, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if prefix != "" && !strings.HasPrefix(key, prefix) {
			return nil
		}
		format, ok := FormatOf(key)
		if !ok {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, model.ImportObject{Key: key, Format: format, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *localSource) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	_ = ctx
	clean := path.Clean("/" + key)
	if clean == "/" || strings.Contains(key, "\\") || clean != "/"+key {
		return nil, fmt.Errorf("invalid file key")
	}
	return os.Open(filepath.Join(s.dir, filepath.FromSlash(clean[1:])))
}
