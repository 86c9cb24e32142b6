package shell

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Test evaluates a test(1)-style predicate against path.
//
//	-e exists        -f regular file   -d directory   -L symlink
//	-s non-empty     -r readable       -w writable    -x executable
//
// Unknown predicates report false.
func (p *Proxy) Test(predicate, path string) bool {
	path = p.resolve(path)

	if predicate == "-L" {
		info, err := os.Lstat(path)
		return err == nil && info.Mode()&fs.ModeSymlink != 0
	}

	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	switch predicate {
	case "-e":
		return true
	case "-f":
		return info.Mode().IsRegular()
	case "-d":
		return info.IsDir()
	case "-s":
		return info.Size() > 0
	case "-r":
		return access(path, os.O_RDONLY, info)
	case "-w":
		return access(path, os.O_WRONLY, info)
	case "-x":
		return info.Mode().Perm()&0o111 != 0
	default:
		return false
	}
}

func access(path string, flag int, info fs.FileInfo) bool {
	if info.IsDir() {
		if flag == os.O_RDONLY {
			_, err := os.ReadDir(path)
			return err == nil
		}
		return info.Mode().Perm()&0o222 != 0
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}

// Mkdir creates each directory along with any missing parents.
func (p *Proxy) Mkdir(paths ...string) error {
	for _, path := range paths {
		if err := os.MkdirAll(p.resolve(path), 0o755); err != nil {
			return fmt.Errorf("mkdir: %w", err)
		}
	}
	return nil
}

// Rm removes each path recursively. Missing paths are not an error.
func (p *Proxy) Rm(paths ...string) error {
	for _, path := range paths {
		target := p.resolve(path)
		if target == "" || target == "/" {
			return fmt.Errorf("rm: refusing to remove %q", path)
		}
		if err := os.RemoveAll(target); err != nil {
			return fmt.Errorf("rm: %w", err)
		}
	}
	return nil
}

// Cp copies src to dst. Directories are copied recursively.
// When dst is an existing directory, src is copied into it.
func (p *Proxy) Cp(src, dst string) error {
	src, dst = p.resolve(src), p.resolve(dst)

	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("cp: %w", err)
	}
	if di, err := os.Stat(dst); err == nil && di.IsDir() {
		dst = filepath.Join(dst, filepath.Base(src))
	}

	if !info.IsDir() {
		return copyFile(src, dst, info.Mode().Perm())
	}

	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		fi, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			return os.MkdirAll(target, fi.Mode().Perm()|0o700)
		case fi.Mode()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			if err := os.Symlink(link, target); err != nil && !errors.Is(err, fs.ErrExist) {
				return err
			}
			return nil
		default:
			return copyFile(path, target, fi.Mode().Perm())
		}
	})
}

func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("cp: %w", err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("cp: %w", err)
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("cp: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("cp: %w", err)
	}
	return out.Close()
}
