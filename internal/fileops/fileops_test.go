package fileops

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/paulober/pyboard-serial-com/internal/config"
	"github.com/paulober/pyboard-serial-com/internal/logging"
	"github.com/paulober/pyboard-serial-com/internal/progress"
	"github.com/paulober/pyboard-serial-com/internal/protocol"
	"github.com/paulober/pyboard-serial-com/internal/testutil"
)

func testConfig() config.ProtocolConfig {
	cfg := config.DefaultConfig().Protocol
	cfg.PollInterval = 2 * time.Millisecond
	cfg.EntryTimeout = 250 * time.Millisecond
	cfg.InterChunkDelay = 0
	cfg.CopyChunkSize = 4
	return cfg
}

func newTestService(t *testing.T) (*Service, *testutil.FakeDevice) {
	t.Helper()
	dev := testutil.NewFakeDevice()
	drv := protocol.NewDriver(dev.Pipe, testConfig(), logging.Component("fileops-test"))
	require.NoError(t, drv.EnterRawMode(false))
	return NewService(drv, testConfig(), logging.Component("fileops-test")), dev
}

func TestSanitizeRemote(t *testing.T) {
	require.Equal(t, ":", SanitizeRemote(""))
	require.Equal(t, ":/main.py", SanitizeRemote("/main.py"))
	require.Equal(t, ":/main.py", SanitizeRemote(":/main.py"))
	require.Equal(t, []string{":", ":/a"}, SanitizeRemoteAll([]string{"", "/a"}))
}

func TestDevicePath(t *testing.T) {
	require.Equal(t, "/", DevicePath(":"))
	require.Equal(t, "/main.py", DevicePath(":/main.py"))
	require.Equal(t, "/lib/a.py", DevicePath("/lib/a.py"))
}

func TestListStreams(t *testing.T) {
	svc, dev := newTestService(t)
	dev.ExecFunc = func(code string) (string, string) {
		if strings.Contains(code, "ilistdir") {
			return "         128 main.py\r\n           0 lib/\r\n", ""
		}
		return "", ""
	}

	var out bytes.Buffer
	require.NoError(t, svc.List(":/", &out))
	require.Contains(t, out.String(), "main.py")
	require.Contains(t, out.String(), "lib/")
}

func TestMkdirRemoteError(t *testing.T) {
	svc, dev := newTestService(t)
	dev.ExecFunc = func(code string) (string, string) {
		return "", "Traceback (most recent call last):\r\nOSError: [Errno 17] EEXIST\r\n"
	}

	err := svc.Mkdir([]string{":/lib"})
	var remote *protocol.RemoteError
	require.ErrorAs(t, err, &remote)
	require.Contains(t, remote.Text, "EEXIST")
}

func TestUploadChunksAndProgress(t *testing.T) {
	svc, dev := newTestService(t)

	local := filepath.Join(t.TempDir(), "blob.bin")
	payload := []byte("0123456789") // 4+4+2 with chunk size 4
	require.NoError(t, os.WriteFile(local, payload, 0o644))

	var reports []progress.Report
	tr := progress.NewTracker(func(r progress.Report) { reports = append(reports, r) })

	require.NoError(t, svc.Upload([]string{local}, ":/data", tr))

	var written []byte
	var opened bool
	for _, code := range dev.Execs() {
		if strings.Contains(code, "open('/data/blob.bin', 'wb')") {
			opened = true
		}
		if strings.HasPrefix(code, "_w('") {
			chunk, err := hex.DecodeString(strings.TrimSuffix(strings.TrimPrefix(code, "_w('"), "')"))
			require.NoError(t, err)
			require.LessOrEqual(t, len(chunk), 4)
			written = append(written, chunk...)
		}
	}
	require.True(t, opened)
	require.Equal(t, payload, written)

	// One coalesced report for the single file in the batch.
	require.Len(t, reports, 1)
	require.Equal(t, 0, reports[0].FileIndex)
	require.Equal(t, 1, reports[0].FileCount)
	require.Equal(t, int64(len(payload)), reports[0].Total)
}

func TestUploadWithBasePreservesTree(t *testing.T) {
	svc, dev := newTestService(t)

	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "lib", "net"), 0o755))
	files := []string{
		filepath.Join(base, "main.py"),
		filepath.Join(base, "lib", "net", "wifi.py"),
	}
	for _, f := range files {
		require.NoError(t, os.WriteFile(f, []byte("pass\n"), 0o644))
	}

	// Directories already existing on the device raise, which must not
	// abort the upload.
	dev.ExecFunc = func(code string) (string, string) {
		if strings.Contains(code, "uos.mkdir('/lib')") {
			return "", "Traceback (most recent call last):\r\nOSError: [Errno 17] EEXIST\r\n"
		}
		return "", ""
	}

	tr := progress.NewTracker(nil)
	require.NoError(t, svc.UploadWithBase(files, ":", base, tr))

	var opens []string
	for _, code := range dev.Execs() {
		if strings.Contains(code, "'wb'") {
			opens = append(opens, code)
		}
	}
	require.Len(t, opens, 2)
	require.Contains(t, opens[0], "open('/main.py', 'wb')")
	require.Contains(t, opens[1], "open('/lib/net/wifi.py', 'wb')")
}

func TestUploadMissingLocalFile(t *testing.T) {
	svc, _ := newTestService(t)
	tr := progress.NewTracker(nil)
	err := svc.Upload([]string{filepath.Join(t.TempDir(), "absent.py")}, ":/", tr)
	require.Error(t, err)
	require.Contains(t, err.Error(), "absent.py")
}

// A failure in the middle of a batch must still leave the tracker fully
// reset, so state never leaks into the next unrelated transfer.
func TestUploadErrorMidBatchResetsTracker(t *testing.T) {
	svc, _ := newTestService(t)

	dir := t.TempDir()
	first := filepath.Join(dir, "a.py")
	missing := filepath.Join(dir, "b.py")
	third := filepath.Join(dir, "c.py")
	require.NoError(t, os.WriteFile(first, []byte("pass\n"), 0o644))
	require.NoError(t, os.WriteFile(third, []byte("pass\n"), 0o644))

	var reports []progress.Report
	tr := progress.NewTracker(func(r progress.Report) { reports = append(reports, r) })

	err := svc.Upload([]string{first, missing, third}, ":/", tr)
	require.Error(t, err)
	require.Contains(t, err.Error(), "b.py")

	// Only the file before the failure reported.
	require.Len(t, reports, 1)
	require.Equal(t, 0, reports[0].FileIndex)
	require.Equal(t, 3, reports[0].FileCount)

	fileCount, current, lastReported := tr.State()
	require.Equal(t, -1, fileCount)
	require.Equal(t, -1, current)
	require.Equal(t, -1, lastReported)
}

func TestDownloadWritesFileAndMirrorsTree(t *testing.T) {
	svc, dev := newTestService(t)

	payload := []byte("hello device!")
	chunks := []string{
		hex.EncodeToString(payload[:4]),
		hex.EncodeToString(payload[4:8]),
		hex.EncodeToString(payload[8:]),
	}
	next := 0
	dev.ExecFunc = func(code string) (string, string) {
		switch {
		case strings.Contains(code, "uos.stat"):
			return fmt.Sprintf("%d\r\n", len(payload)), ""
		case strings.Contains(code, "hexlify(_r("):
			if next < len(chunks) {
				next++
				return chunks[next-1] + "\r\n", ""
			}
			return "\r\n", ""
		default:
			return "", ""
		}
	}

	localDir := t.TempDir()
	var reports []progress.Report
	tr := progress.NewTracker(func(r progress.Report) { reports = append(reports, r) })

	require.NoError(t, svc.Download([]string{":/lib/util.py"}, localDir, tr))

	got, err := os.ReadFile(filepath.Join(localDir, "lib", "util.py"))
	require.NoError(t, err)
	require.Equal(t, payload, got)
	require.Len(t, reports, 1)
	require.Equal(t, int64(len(payload)), reports[0].Total)
}

func TestDownloadStatFailure(t *testing.T) {
	svc, dev := newTestService(t)
	dev.ExecFunc = func(code string) (string, string) {
		return "", "Traceback (most recent call last):\r\nOSError: [Errno 2] ENOENT\r\n"
	}

	tr := progress.NewTracker(nil)
	err := svc.Download([]string{":/missing.py"}, t.TempDir(), tr)
	var remote *protocol.RemoteError
	require.ErrorAs(t, err, &remote)
}

func TestHashesStreamAndCleanup(t *testing.T) {
	svc, dev := newTestService(t)
	dev.ExecFunc = func(code string) (string, string) {
		if strings.HasPrefix(code, "_hash_file(") {
			return `{"file": "/main.py", "hash": "ab"}` + "\r\n", ""
		}
		return "", ""
	}

	var out bytes.Buffer
	require.NoError(t, svc.Hashes([]string{":/main.py"}, &out))
	require.Contains(t, out.String(), `"hash": "ab"`)

	execs := dev.Execs()
	require.Contains(t, execs[len(execs)-1], "del _hash_file")
}

func TestRenameReturnsDeviceReport(t *testing.T) {
	svc, dev := newTestService(t)
	dev.ExecFunc = func(code string) (string, string) {
		if strings.HasPrefix(code, "_rename(") {
			require.Contains(t, code, "'/old.py'")
			require.Contains(t, code, "'/new.py'")
			return `{"success": true}` + "\r\n", ""
		}
		return "", ""
	}

	out, err := svc.Rename(":/old.py", ":/new.py")
	require.NoError(t, err)
	require.Contains(t, string(out), `"success": true`)
}

func TestStatReturnsJSON(t *testing.T) {
	svc, dev := newTestService(t)
	dev.ExecFunc = func(code string) (string, string) {
		if strings.HasPrefix(code, "_file_info(") {
			return `{"creation_time": 0, "modification_time": 0, "size": 42, "is_dir": false}` + "\r\n", ""
		}
		return "", ""
	}

	out, err := svc.Stat(":/main.py")
	require.NoError(t, err)
	require.Contains(t, string(out), `"size": 42`)
}
