package ledger

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendWritesOneLinePerEntry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.jsonl")
	l := Open(path)

	require.NoError(t, l.Append(Entry{JobID: "j1", Tokens: 100, Cost: 0.01}))
	require.NoError(t, l.Append(Entry{JobID: "j2", Tokens: 50, Cost: 0.005}))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if len(scanner.Bytes()) > 0 {
			lines++
		}
	}
	assert.Equal(t, 2, lines)
}
