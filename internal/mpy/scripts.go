// Package mpy generates the small MicroPython snippets executed on the
// device for filesystem and introspection work. Everything here produces
// raw-execution buffers; nothing talks to the transport directly.
package mpy

import (
	"fmt"
	"strings"
)

// Quote renders s as a single-quoted MicroPython string literal.
func Quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(s) + "'"
}

// ListDir lists a directory one entry per line, "<size> <name>[/]", with
// a trailing slash marking directories.
func ListDir(path string) string {
	return "import uos\n" +
		"for f in uos.ilistdir(" + Quote(path) + "):\n" +
		" print('{:12} {}{}'.format(f[3] if len(f) > 3 else 0, f[0], '/' if f[1] & 0x4000 else ''))"
}

// ListDirRecursive walks a directory tree, printing every entry with its
// full path.
func ListDirRecursive(path string) string {
	return "import uos\n" +
		"def _walk(d):\n" +
		" for f in uos.ilistdir(d):\n" +
		"  p = (d + '/' + f[0]).replace('//', '/')\n" +
		"  if f[1] & 0x4000:\n" +
		"   print('{:12} {}/'.format(0, p))\n" +
		"   _walk(p)\n" +
		"  else:\n" +
		"   print('{:12} {}'.format(f[3] if len(f) > 3 else 0, p))\n" +
		"_walk(" + Quote(path) + ")\n" +
		"del _walk"
}

// Mkdir creates a directory.
func Mkdir(path string) string {
	return "import uos\nuos.mkdir(" + Quote(path) + ")"
}

// Rmdir removes an empty directory.
func Rmdir(path string) string {
	return "import uos\nuos.rmdir(" + Quote(path) + ")"
}

// Remove deletes a file.
func Remove(path string) string {
	return "import uos\nuos.remove(" + Quote(path) + ")"
}

// RmdirRecursive removes a directory tree.
func RmdirRecursive(path string) string {
	return "import uos\n" +
		"def _rmtree(d):\n" +
		" for f in uos.ilistdir(d):\n" +
		"  p = (d + '/' + f[0]).replace('//', '/')\n" +
		"  if f[1] & 0x4000:\n" +
		"   _rmtree(p)\n" +
		"  else:\n" +
		"   uos.remove(p)\n" +
		" uos.rmdir(d)\n" +
		"_rmtree(" + Quote(path) + ")\n" +
		"del _rmtree"
}

// StatSize prints the size of a file in bytes.
func StatSize(path string) string {
	return "import uos\nprint(uos.stat(" + Quote(path) + ")[6])"
}

// OpenForRead opens a remote file and binds its chunked reader.
func OpenForRead(path string) string {
	return "import ubinascii\n_f = open(" + Quote(path) + ", 'rb')\n_r = _f.read"
}

// ReadChunkHex prints the next chunk of the open file, hex encoded. An
// empty line means end of file.
func ReadChunkHex(n int) string {
	return fmt.Sprintf("print(ubinascii.hexlify(_r(%d)).decode())", n)
}

// OpenForWrite opens a remote file and binds a hex-decoding chunk writer.
func OpenForWrite(path string) string {
	return "import ubinascii\n_f = open(" + Quote(path) + ", 'wb')\n" +
		"_w = lambda d: _f.write(ubinascii.unhexlify(d))"
}

// WriteChunkHex writes one hex-encoded chunk to the open file.
func WriteChunkHex(hexData string) string {
	return "_w('" + hexData + "')"
}

// CloseFile closes the open file and unbinds the helpers.
func CloseFile() string {
	return "_f.close()\ndel _f"
}

// FileInfoDefine loads the stat helper. The result is a JSON object with
// creation/modification times, size and a directory flag.
func FileInfoDefine() string {
	return "import uos\n" +
		"def _file_info(p):\n" +
		" st = uos.stat(p)\n" +
		" print('{\"creation_time\": ' + str(st[9]) + ', \"modification_time\": ' + str(st[8]) +\n" +
		"  ', \"size\": ' + str(st[6]) + ', \"is_dir\": ' + str((st[0] & 0o170000) == 0o040000).lower() + '}')"
}

// FileInfoCall invokes the loaded stat helper.
func FileInfoCall(path string) string {
	return "_file_info(" + Quote(path) + ")"
}

// FileInfoCleanup unbinds the stat helper.
func FileInfoCleanup() string {
	return "del _file_info"
}

// RenameDefine loads the rename helper, which reports success as JSON.
func RenameDefine() string {
	return "import uos\n" +
		"def _rename(old, new):\n" +
		" try:\n" +
		"  uos.rename(old, new)\n" +
		"  print('{\"success\": true}')\n" +
		" except OSError as e:\n" +
		"  print('{\"success\": false, \"error\": \"' + str(e) + '\"}')"
}

// RenameCall invokes the loaded rename helper.
func RenameCall(old, new string) string {
	return "_rename(" + Quote(old) + ", " + Quote(new) + ")"
}

// RenameCleanup unbinds the rename helper.
func RenameCleanup() string {
	return "del _rename"
}

// hashSizeLimit guards the device against hashing files it cannot afford
// to stream through its hasher.
const hashSizeLimit = 200 * 1024

// HashDefine loads the SHA-256 file hash helper. Per-file results are
// JSON objects; oversized or unreadable files report an error field
// instead of a hash.
func HashDefine() string {
	return fmt.Sprintf("import uhashlib\n"+
		"import ubinascii\n"+
		"import uos\n"+
		"def _hash_file(file):\n"+
		" try:\n"+
		"  if uos.stat(file)[6] > %d:\n"+
		"   print('{\"file\": \"' + file + '\", \"error\": \"File too large\"}')\n"+
		"   return\n"+
		"  with open(file, 'rb') as f:\n"+
		"   h = uhashlib.sha256()\n"+
		"   while True:\n"+
		"    data = f.read(1024)\n"+
		"    if not data:\n"+
		"     break\n"+
		"    h.update(data)\n"+
		"   print('{\"file\": \"' + file + '\", \"hash\": \"' + ubinascii.hexlify(h.digest()).decode() + '\"}')\n"+
		" except Exception as e:\n"+
		"  print('{\"file\": \"' + file + '\", \"error\": \"' + e.__class__.__name__ + ': ' + str(e) + '\"}')",
		hashSizeLimit)
}

// HashCall invokes the loaded hash helper for one file.
func HashCall(path string) string {
	return "_hash_file(" + Quote(path) + ")"
}

// HashCleanup unbinds the hash helper.
func HashCleanup() string {
	return "del _hash_file"
}
