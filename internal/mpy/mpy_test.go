package mpy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQuoteEscapes(t *testing.T) {
	require.Equal(t, "'plain'", Quote("plain"))
	require.Equal(t, `'it\'s'`, Quote("it's"))
	require.Equal(t, `'a\\b'`, Quote(`a\b`))
}

func TestListDirQuotesPath(t *testing.T) {
	code := ListDir("/lib")
	require.Contains(t, code, "uos.ilistdir('/lib')")
}

func TestReadWriteChunkHelpers(t *testing.T) {
	require.Contains(t, OpenForRead("/main.py"), "open('/main.py', 'rb')")
	require.Contains(t, ReadChunkHex(256), "_r(256)")
	require.Contains(t, OpenForWrite("/main.py"), "open('/main.py', 'wb')")
	require.Equal(t, "_w('68656c6c6f')", WriteChunkHex("68656c6c6f"))
}

func TestHashDefineGuardsSize(t *testing.T) {
	require.Contains(t, HashDefine(), "204800")
}

func TestWrapFriendly(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"expression", "1+1", "print(1+1)"},
		{"call", "machine.freq()", "print(machine.freq())"},
		{"comparison", "a == b", "print(a == b)"},
		{"assignment", "x = 1", "x = 1"},
		{"augmented assignment", "x += 1", "x += 1"},
		{"import", "import uos", "import uos"},
		{"def", "def f(): pass", "def f(): pass"},
		{"print already", "print('hi')", "print('hi')"},
		{"keyword before paren", "del(x)", "del(x)"},
		{"keyword before colon", "if x: y", "if x: y"},
		{"keyword prefix of name", "printer.status()", "print(printer.status())"},
		{"multiline", "a\nb", "a\nb"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, WrapFriendly(tt.in))
		})
	}
}

func TestRmdirRecursiveCleansUp(t *testing.T) {
	code := RmdirRecursive("/data")
	require.True(t, strings.HasSuffix(code, "del _rmtree"))
	require.Contains(t, code, "_rmtree('/data')")
}
