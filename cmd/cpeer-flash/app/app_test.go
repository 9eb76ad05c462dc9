package app

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/ecuflash/cmd/cpeer-flash/app/options"
	"github.com/autopeer-io/ecuflash/internal/updater/result"
	"github.com/autopeer-io/ecuflash/internal/updater/task"
)

func TestPoll(t *testing.T) {
	runner := task.NewRunner(nil)
	var out bytes.Buffer

	code := poll(runner, func() result.Code {
		runner.AddLine("Activate flashloader: start")
		time.Sleep(5 * time.Millisecond)
		runner.AddLine("Update failed.")
		return result.UpdateIO
	}, &out, time.Millisecond)

	assert.Equal(t, result.UpdateIO, code)
	assert.Equal(t, "Activate flashloader: start\nUpdate failed.\n", out.String())
}

func TestPoll_NilWork(t *testing.T) {
	var out bytes.Buffer
	assert.Equal(t, result.TaskWorkerInitFailed, poll(task.NewRunner(nil), nil, &out, time.Millisecond))
}

func TestCodesTable(t *testing.T) {
	table := codesTable()
	assert.True(t, strings.HasPrefix(table, "CODE"))
	for _, c := range result.All() {
		assert.Contains(t, table, c.String())
	}
}

func TestLogFile(t *testing.T) {
	opts := options.NewUpdateOptions()
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

	assert.Equal(t, filepath.Join("/var/log/flash", "cpeer-flash_2026-03-04_05-06-07.log"), opts.LogFile("/var/log/flash", at))

	opts.LogDir = "/tmp/runs"
	assert.Equal(t, filepath.Join("/tmp/runs", "cpeer-flash_2026-03-04_05-06-07.log"), opts.LogFile("/var/log/flash", at))
}

func TestInitRunLog(t *testing.T) {
	opts := options.NewUpdateOptions()
	file := filepath.Join(t.TempDir(), "logs", "run.log")

	require.NoError(t, initRunLog(opts.Log, file))
	assert.Equal(t, []string{file}, opts.Log.OutputPaths)
	_, err := os.Stat(file)
	assert.NoError(t, err)
}
