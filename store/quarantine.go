package store

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// quarantineFile moves an unreadable state file into dstDir so the store can
// start over without destroying the evidence. The moved file gets a
// ".corrupt-<unixnano>" suffix.
func quarantineFile(srcPath string, dstDir string) (string, error) {
	if strings.TrimSpace(dstDir) == "" {
		return "", fmt.Errorf("dstDir is empty")
	}
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return "", err
	}
	dstPath := freeName(dstDir, filepath.Base(srcPath)+".corrupt-"+strconv.FormatInt(time.Now().UnixNano(), 10))
	if os.Rename(srcPath, dstPath) == nil {
		return dstPath, nil
	}
	// Rename fails across devices.
	if err := copyFile(srcPath, dstPath); err != nil {
		return "", err
	}
	return dstPath, os.Remove(srcPath)
}

// freeName returns dir/name, or dir/name-N for the first N not taken.
func freeName(dir, name string) string {
	p := filepath.Join(dir, name)
	for n := 1; fileExists(p); n++ {
		p = filepath.Join(dir, name+"-"+strconv.Itoa(n))
	}
	return p
}

func fileExists(p string) bool {
	_, err := os.Lstat(p)
	return err == nil
}

// copyFile writes a copy of src to dst. dst is removed when the copy is incomplete.
func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(dst)
		}
	}()
	_, copyErr := io.Copy(out, in)
	return errors.Join(copyErr, out.Close())
}

// recoverCorrupt logs a recovered load and, when a quarantine directory is
// configured, moves the bad file aside. Failing to move is logged only.
func recoverCorrupt(log *zap.Logger, path string, quarantineDir string) {
	if strings.TrimSpace(quarantineDir) == "" {
		log.Warn("unreadable state file, starting from defaults", zap.String("path", path))
		return
	}
	dst, err := quarantineFile(path, quarantineDir)
	if err != nil {
		log.Warn("unreadable state file, quarantine failed; starting from defaults",
			zap.String("path", path), zap.Error(err))
		return
	}
	log.Warn("unreadable state file quarantined, starting from defaults",
		zap.String("path", path), zap.String("moved_to", dst))
}
