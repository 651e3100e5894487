package export

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/rulestream/types"
)

func TestFileWriter_HeaderAndRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")

	w, err := NewFileWriter(path)
	require.NoError(t, err)

	require.NoError(t, w.Write(types.Verdict{
		ReportDate:  "2026-08-29",
		OnlineStore: "amazon",
		RPC:         "rpc-1",
		CustomerID:  "C1",
		RuleName:    "TitleLengthRule",
		Passed:      true,
		Score:       1.0,
	}))
	require.NoError(t, w.Write(types.Verdict{
		ReportDate:   "2026-08-29",
		OnlineStore:  "amazon",
		RPC:          "rpc-2",
		CustomerID:   "C1",
		RuleName:     "TitleLengthRule",
		Passed:       false,
		Score:        0.0,
		ErrorMessage: "Title length is not within the specified range",
	}))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Report Date,Online Store,RPC,Customer ID,Rule Name,Rule Pass,Rule Score,Error Message", lines[0])
	assert.Equal(t, "2026-08-29,amazon,rpc-1,C1,TitleLengthRule,true,1.0,", lines[1])
	assert.Equal(t, "2026-08-29,amazon,rpc-2,C1,TitleLengthRule,false,0.0,Title length is not within the specified range", lines[2])
}

func TestFileWriter_ConcurrentWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")

	w, err := NewFileWriter(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, w.Write(types.Verdict{
				ReportDate: "2026-08-29",
				RPC:        "rpc",
				RuleName:   "TitleLengthRule",
				Passed:     true,
				Score:      1.0,
			}))
		}()
	}
	wg.Wait()
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 51)
}
