// Package fileops implements remote filesystem operations as generated
// MicroPython snippets executed through the raw-REPL driver. File
// transfers move hex-encoded chunks so payload bytes never collide with
// protocol control bytes.
package fileops

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/paulober/pyboard-serial-com/internal/config"
	"github.com/paulober/pyboard-serial-com/internal/mpy"
	"github.com/paulober/pyboard-serial-com/internal/progress"
	"github.com/paulober/pyboard-serial-com/internal/protocol"
)

// Service executes filesystem operations on a device already in raw-REPL
// mode. Methods are blocking and must not be called concurrently.
type Service struct {
	driver *protocol.Driver
	cfg    config.ProtocolConfig
	logger zerolog.Logger
}

// NewService creates a filesystem service over the given driver.
func NewService(d *protocol.Driver, cfg config.ProtocolConfig, logger zerolog.Logger) *Service {
	return &Service{
		driver: d,
		cfg:    cfg,
		logger: logger.With().Str("component", "fileops").Logger(),
	}
}

// exec runs a snippet and returns its captured output. A device-side
// exception comes back as *protocol.RemoteError.
func (s *Service) exec(script string) ([]byte, error) {
	res, err := s.driver.Exec([]byte(script), nil)
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, &protocol.RemoteError{Text: string(res.ErrText)}
	}
	return res.Output, nil
}

// execStream runs a snippet, streaming its output to sink as it arrives.
func (s *Service) execStream(script string, sink io.Writer) error {
	res, err := s.driver.Exec([]byte(script), sink)
	if err != nil {
		return err
	}
	if !res.Success {
		return &protocol.RemoteError{Text: string(res.ErrText)}
	}
	return nil
}

// List streams a directory listing to sink, one "<size> <name>" line per
// entry with a trailing slash marking directories.
func (s *Service) List(dir string, sink io.Writer) error {
	return s.execStream(mpy.ListDir(DevicePath(SanitizeRemote(dir))), sink)
}

// ListRecursive streams a full tree listing to sink.
func (s *Service) ListRecursive(dir string, sink io.Writer) error {
	return s.execStream(mpy.ListDirRecursive(DevicePath(SanitizeRemote(dir))), sink)
}

// Mkdir creates each listed directory on the device.
func (s *Service) Mkdir(dirs []string) error {
	for _, d := range dirs {
		if _, err := s.exec(mpy.Mkdir(DevicePath(SanitizeRemote(d)))); err != nil {
			return err
		}
	}
	return nil
}

// Rmdir removes each listed empty directory.
func (s *Service) Rmdir(dirs []string) error {
	for _, d := range dirs {
		if _, err := s.exec(mpy.Rmdir(DevicePath(SanitizeRemote(d)))); err != nil {
			return err
		}
	}
	return nil
}

// RmdirRecursive removes a directory tree.
func (s *Service) RmdirRecursive(dir string) error {
	_, err := s.exec(mpy.RmdirRecursive(DevicePath(SanitizeRemote(dir))))
	return err
}

// Remove deletes each listed file.
func (s *Service) Remove(files []string) error {
	for _, f := range files {
		if _, err := s.exec(mpy.Remove(DevicePath(SanitizeRemote(f)))); err != nil {
			return err
		}
	}
	return nil
}

// Upload copies local files into a remote directory. Each file is
// announced to the tracker with a boundary marker, then its chunk
// progress follows.
func (s *Service) Upload(locals []string, remoteDir string, tr *progress.Tracker) error {
	tr.Begin(len(locals))
	defer tr.Reset()

	dir := DevicePath(SanitizeRemote(remoteDir))
	for _, local := range locals {
		tr.Update(progress.Sentinel, progress.Sentinel)
		if err := s.uploadOne(local, remoteJoin(dir, filepath.Base(local)), tr); err != nil {
			return fmt.Errorf("upload %s: %w", local, err)
		}
	}
	return nil
}

func (s *Service) uploadOne(local, remote string, tr *progress.Tracker) error {
	f, err := os.Open(local)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	total := info.Size()

	if _, err := s.exec(mpy.OpenForWrite(remote)); err != nil {
		return err
	}

	buf := make([]byte, s.cfg.CopyChunkSize)
	var written int64
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			if _, err := s.exec(mpy.WriteChunkHex(hex.EncodeToString(buf[:n]))); err != nil {
				s.closeRemote()
				return err
			}
			written += int64(n)
			tr.Update(written, total)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			s.closeRemote()
			return rerr
		}
	}

	_, err = s.exec(mpy.CloseFile())
	return err
}

// UploadWithBase copies local files into a remote directory while
// preserving their directory structure relative to localBase. Parent
// directories are created on the device as needed; every file must live
// under localBase.
func (s *Service) UploadWithBase(locals []string, remoteDir, localBase string, tr *progress.Tracker) error {
	type item struct {
		local string
		rel   string
	}
	items := make([]item, 0, len(locals))
	for _, local := range locals {
		rel, err := filepath.Rel(localBase, local)
		if err != nil {
			return fmt.Errorf("file %s outside base %s: %w", local, localBase, err)
		}
		items = append(items, item{local: local, rel: filepath.ToSlash(rel)})
	}
	// Shallow paths first so parent directories exist before their
	// children are created.
	sort.Slice(items, func(i, j int) bool {
		return strings.Count(items[i].rel, "/") < strings.Count(items[j].rel, "/")
	})

	tr.Begin(len(items))
	defer tr.Reset()

	dir := DevicePath(SanitizeRemote(remoteDir))
	made := map[string]bool{}
	for _, it := range items {
		if err := s.ensureRemoteDir(remoteJoin(dir, path.Dir(it.rel)), made); err != nil {
			return err
		}
		tr.Update(progress.Sentinel, progress.Sentinel)
		if err := s.uploadOne(it.local, remoteJoin(dir, it.rel), tr); err != nil {
			return fmt.Errorf("upload %s: %w", it.local, err)
		}
	}
	return nil
}

// ensureRemoteDir creates a device directory and its ancestors. Existing
// directories are fine; the device reports them as exceptions that are
// swallowed here.
func (s *Service) ensureRemoteDir(dir string, made map[string]bool) error {
	if dir == "/" || dir == "." || made[dir] {
		return nil
	}
	if parent := path.Dir(dir); parent != dir {
		if err := s.ensureRemoteDir(parent, made); err != nil {
			return err
		}
	}
	if _, err := s.exec(mpy.Mkdir(dir)); err != nil {
		var remote *protocol.RemoteError
		if !errors.As(err, &remote) {
			return err
		}
	}
	made[dir] = true
	return nil
}

// Download copies remote files into a local directory, mirroring the
// remote folder structure. Progress is fed to the tracker per chunk.
func (s *Service) Download(remotes []string, localDir string, tr *progress.Tracker) error {
	remotes = SanitizeRemoteAll(remotes)
	if err := createFolderStructure(remotes, localDir); err != nil {
		return err
	}

	tr.Begin(len(remotes))
	defer tr.Reset()

	for _, r := range remotes {
		tr.Update(progress.Sentinel, progress.Sentinel)
		dev := DevicePath(r)
		local := filepath.Join(localDir, filepath.FromSlash(strings.TrimPrefix(dev, "/")))
		if err := s.downloadOne(dev, local, tr); err != nil {
			return fmt.Errorf("download %s: %w", dev, err)
		}
	}
	return nil
}

func (s *Service) downloadOne(remote, local string, tr *progress.Tracker) error {
	out, err := s.exec(mpy.StatSize(remote))
	if err != nil {
		return err
	}
	total, err := strconv.ParseInt(strings.TrimSpace(string(out)), 10, 64)
	if err != nil {
		return fmt.Errorf("unparsable remote size %q: %w", strings.TrimSpace(string(out)), err)
	}

	if _, err := s.exec(mpy.OpenForRead(remote)); err != nil {
		return err
	}

	f, err := os.Create(local)
	if err != nil {
		s.closeRemote()
		return err
	}
	defer f.Close()

	var written int64
	for {
		out, err := s.exec(mpy.ReadChunkHex(s.cfg.CopyChunkSize))
		if err != nil {
			s.closeRemote()
			return err
		}
		line := strings.TrimSpace(string(out))
		if line == "" {
			break
		}
		data, err := hex.DecodeString(line)
		if err != nil {
			s.closeRemote()
			return fmt.Errorf("corrupt chunk: %w", err)
		}
		if _, err := f.Write(data); err != nil {
			s.closeRemote()
			return err
		}
		written += int64(len(data))
		tr.Update(written, total)
	}

	_, err = s.exec(mpy.CloseFile())
	return err
}

// closeRemote closes a device-side file handle left open by a failed
// transfer. Best effort; the error path already carries the real cause.
func (s *Service) closeRemote() {
	if _, err := s.exec(mpy.CloseFile()); err != nil {
		s.logger.Debug().Err(err).Msg("remote close after failed transfer")
	}
}

// Hashes streams per-file SHA-256 results to sink, one JSON object per
// line. Unreadable or oversized files report an error field instead of a
// hash.
func (s *Service) Hashes(files []string, sink io.Writer) error {
	if _, err := s.exec(mpy.HashDefine()); err != nil {
		return err
	}
	defer s.exec(mpy.HashCleanup())

	for _, f := range files {
		if err := s.execStream(mpy.HashCall(DevicePath(SanitizeRemote(f))), sink); err != nil {
			return err
		}
	}
	return nil
}

// Rename moves a file or directory, returning the device's JSON status
// report.
func (s *Service) Rename(old, new string) ([]byte, error) {
	if _, err := s.exec(mpy.RenameDefine()); err != nil {
		return nil, err
	}
	defer s.exec(mpy.RenameCleanup())

	return s.exec(mpy.RenameCall(DevicePath(SanitizeRemote(old)), DevicePath(SanitizeRemote(new))))
}

// Stat returns a JSON description of a file or directory: timestamps,
// size and a directory flag.
func (s *Service) Stat(path string) ([]byte, error) {
	if _, err := s.exec(mpy.FileInfoDefine()); err != nil {
		return nil, err
	}
	defer s.exec(mpy.FileInfoCleanup())

	return s.exec(mpy.FileInfoCall(DevicePath(SanitizeRemote(path))))
}
