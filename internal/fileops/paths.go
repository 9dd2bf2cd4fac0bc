package fileops

import (
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Remote paths arriving from the parent process carry a ":" prefix, the
// convention marking "this side is the device". The prefix never reaches
// the device itself.

// SanitizeRemote normalizes a remote path to the prefixed form. An empty
// path means the device root.
func SanitizeRemote(p string) string {
	if p == "" {
		return ":"
	}
	if !strings.HasPrefix(p, ":") {
		return ":" + p
	}
	return p
}

// SanitizeRemoteAll normalizes a list of remote paths.
func SanitizeRemoteAll(paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = SanitizeRemote(p)
	}
	return out
}

// DevicePath strips the ":" prefix, yielding the path as the device sees
// it. The device root is "/".
func DevicePath(p string) string {
	p = strings.TrimPrefix(p, ":")
	if p == "" {
		return "/"
	}
	return p
}

// remoteJoin joins a device directory and a file name.
func remoteJoin(dir, name string) string {
	return path.Join("/", dir, name)
}

// createFolderStructure ensures the local directories exist for a
// multi-file download: each remote file's directory is mirrored under the
// local target.
func createFolderStructure(remotes []string, local string) error {
	for _, r := range remotes {
		dir := path.Dir(DevicePath(r))
		target := filepath.Join(local, filepath.FromSlash(strings.TrimPrefix(dir, "/")))
		if err := os.MkdirAll(target, 0o755); err != nil {
			return err
		}
	}
	return nil
}
