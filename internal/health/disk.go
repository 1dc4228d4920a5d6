package health

import (
	"context"
	"fmt"
	"os"
)

// DirChecker verifies a directory exists and is writable, used for the
// artifact store.
type DirChecker struct {
	name string
	path string
}

func NewDirChecker(name, path string) *DirChecker {
	return &DirChecker{name: name, path: path}
}

func (d *DirChecker) Name() string {
	return d.name
}

func (d *DirChecker) Check(ctx context.Context) error {
	info, err := os.Stat(d.path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", d.path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", d.path)
	}

	f, err := os.CreateTemp(d.path, ".health-*")
	if err != nil {
		return fmt.Errorf("%s not writable: %w", d.path, err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

func (d *DirChecker) Details() map[string]interface{} {
	return map[string]interface{}{"path": d.path}
}
