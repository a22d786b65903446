package main

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/golang/glog"
)

// magicFileName names a file that, when found in or above the mountpoint,
// supplies the server URL for a bare mountpoint-only invocation.
const magicFileName = "__wsfs_root__"

// prepareMountpoint resolves mpArg to an absolute path and detects a stale
// FUSE mount left behind by a crashed prior wsfsmount: a broken mount fails
// to open on Linux even though the directory entry itself still exists.
// When that happens it attempts a lazy unmount and retries once.
func prepareMountpoint(mpArg string) (string, error) {
	mountpoint, err := filepath.Abs(mpArg)
	if err != nil {
		return "", fmt.Errorf("resolving mountpoint path %q: %w", mpArg, err)
	}

	df, err := os.OpenFile(mountpoint, os.O_RDONLY, 0)
	if err != nil {
		glog.Warningf("wsfsmount: %s appears unreachable, trying lazy unmount of a stale mount: %v", mountpoint, err)
		if uerr := syscall.Unmount(mountpoint, syscall.MNT_DETACH); uerr != nil {
			return "", fmt.Errorf("can not read mountpoint %q and no stale mount to clear: %w", mountpoint, err)
		}
		df, err = os.OpenFile(mountpoint, os.O_RDONLY, 0)
		if err != nil {
			return "", fmt.Errorf("can not read mountpoint %q after clearing stale mount: %w", mountpoint, err)
		}
	}
	defer df.Close()

	fi, err := df.Stat()
	if err != nil {
		return "", fmt.Errorf("can not stat mountpoint %q: %w", mountpoint, err)
	}
	if !fi.IsDir() {
		return "", fmt.Errorf("mountpoint %q is not a directory", mountpoint)
	}

	return mountpoint, nil
}

// resolveURL returns urlArg verbatim when given, otherwise walks upward from
// mountpoint looking for a magicFileName file naming the server's ws(s)://
// root, appending the mountpoint's path relative to wherever that file was
// found.
func resolveURL(urlArg, mountpoint string) (string, error) {
	if urlArg != "" {
		return urlArg, nil
	}

	for atDir := mountpoint; ; {
		magicFn := filepath.Join(atDir, magicFileName)
		if mfi, err := os.Stat(magicFn); err == nil {
			if mfi.IsDir() {
				glog.Warningf("wsfsmount: magic file %q is a directory, ignoring", magicFn)
			} else {
				contents, err := os.ReadFile(magicFn)
				if err != nil {
					return "", fmt.Errorf("reading magic file %q: %w", magicFn, err)
				}
				root := strings.TrimSpace(string(contents))
				rootURL, err := url.Parse(root)
				if err != nil {
					return "", fmt.Errorf("parsing URL %q from %q: %w", root, magicFn, err)
				}
				rel, err := filepath.Rel(atDir, mountpoint)
				if err != nil {
					return "", fmt.Errorf("relative path from %q to %q: %w", atDir, mountpoint, err)
				}
				if rel != "." {
					rootURL.Path = filepath.Join(rootURL.Path, rel)
				}
				glog.V(1).Infof("wsfsmount: resolved %s via magic file %s", rootURL.String(), magicFn)
				return rootURL.String(), nil
			}
		}
		upDir := filepath.Dir(atDir)
		if upDir == atDir {
			break
		}
		atDir = upDir
	}

	return "", fmt.Errorf("no -url given and no %s magic file found above %s", magicFileName, mountpoint)
}
