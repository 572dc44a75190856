package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listing = `
firmware.elf:     file format elf32-littlearm

00000100 <foo>:
     100:	bf00      	nop
00000200 <bar>:
     200:	bf00      	nop
     204:	4770      	bx	lr
`

type runResult struct {
	code   int
	stdout string
	stderr string
}

func testFs(t *testing.T, files map[string]string) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	for name, content := range files {
		require.NoError(t, afero.WriteFile(fs, name, []byte(content), 0o644))
	}
	return fs
}

func runWith(t *testing.T, fs afero.Fs, args ...string) runResult {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr, fs)
	return runResult{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func Test_Run(t *testing.T) {
	fs := testFs(t, map[string]string{"fw.asm": listing})

	tests := []struct {
		name       string
		args       []string
		wantCode   int
		wantStdout string
		wantStderr string
	}{
		{
			name:       "short flags",
			args:       []string{"-f", "fw.asm", "-b", "100 200"},
			wantStdout: "foo\nbar\n",
		},
		{
			name:       "long flags",
			args:       []string{"--file", "fw.asm", "--backtrace", "204 100"},
			wantStdout: "bar\nfoo\n",
		},
		{
			name:       "unresolved tokens are skipped",
			args:       []string{"-f", "fw.asm", "-b", "dead 200"},
			wantStdout: "bar\n",
		},
		{
			name:       "unresolved tokens reported",
			args:       []string{"-f", "fw.asm", "-b", "dead 200", "--report-unresolved"},
			wantStdout: "bar\n",
			wantStderr: "dead: unresolved\n",
		},
		{
			name:       "single pass",
			args:       []string{"-f", "fw.asm", "-b", "200 100 200", "--mode", "single-pass"},
			wantStdout: "bar\nfoo\nbar\n",
		},
		{
			name:       "json output",
			args:       []string{"-f", "fw.asm", "-b", "100 dead", "-o", "json"},
			wantStdout: `{"address":"100","function":"foo","line":5,"resolved":true}` + "\n",
		},
		{
			name:     "json output with unresolved",
			args:     []string{"-f", "fw.asm", "-b", "100 dead", "-o", "json", "--report-unresolved"},
			wantCode: 0,
			wantStdout: `{"address":"100","function":"foo","line":5,"resolved":true}` + "\n" +
				`{"address":"dead","function":"","resolved":false}` + "\n",
		},
		{
			name:       "missing listing is printed",
			args:       []string{"-f", "missing.asm", "-b", "100 200"},
			wantStdout: "open missing.asm: file does not exist\n",
		},
		{
			name:       "missing listing prints no table",
			args:       []string{"-f", "missing.asm", "-b", "100 200", "-o", "table"},
			wantStdout: "open missing.asm: file does not exist\n",
		},
		{
			name:       "missing listing fails on request",
			args:       []string{"-f", "missing.asm", "-b", "100", "--fail-on-error"},
			wantCode:   1,
			wantStdout: "open missing.asm: file does not exist\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := runWith(t, fs, tt.args...)
			assert.Equal(t, tt.wantCode, res.code)
			assert.Equal(t, tt.wantStdout, res.stdout)
			assert.Equal(t, tt.wantStderr, res.stderr)
		})
	}
}

func Test_RunUsageErrors(t *testing.T) {
	fs := testFs(t, map[string]string{"fw.asm": listing})

	for _, args := range [][]string{
		{"-f", "fw.asm"},
		{"-b", "100"},
		{"-f", "fw.asm", "-b", "100", "-o", "xml"},
		{"-f", "fw.asm", "-b", "100", "--mode", "fast"},
	} {
		t.Run(strings.Join(args, " "), func(t *testing.T) {
			res := runWith(t, fs, args...)
			require.Equal(t, 1, res.code)
			require.Empty(t, res.stdout)
			require.Contains(t, res.stderr, "error:")
		})
	}
}

func Test_RunTableOutput(t *testing.T) {
	fs := testFs(t, map[string]string{"fw.asm": listing})

	res := runWith(t, fs, "-f", "fw.asm", "-b", "100 dead 204", "-o", "table", "--report-unresolved")
	require.Equal(t, 0, res.code)
	lines := strings.Split(strings.TrimSpace(res.stdout), "\n")
	require.Contains(t, lines[1], "Address")
	require.Contains(t, res.stdout, "foo")
	require.Contains(t, res.stdout, "bar")
	require.Contains(t, res.stdout, "dead")
	require.Less(t, strings.Index(res.stdout, "foo"), strings.Index(res.stdout, "dead"))
	require.Less(t, strings.Index(res.stdout, "dead"), strings.Index(res.stdout, "bar"))
}

func Test_RunConfigFile(t *testing.T) {
	fs := testFs(t, map[string]string{
		"fw.asm":         listing,
		"addr2func.yaml": "output: json\nreport_unresolved: true\n",
		"broken.yaml":    "output: xml\nmode: fast\n",
		"strict.yaml":    "fail_on_error: true\n",
		"unknown.yaml":   "outptu: json\n",
	})

	res := runWith(t, fs, "-f", "fw.asm", "-b", "dead", "--config.file", "addr2func.yaml")
	require.Equal(t, 0, res.code)
	require.Equal(t, `{"address":"dead","function":"","resolved":false}`+"\n", res.stdout)

	// flags take precedence over the file
	res = runWith(t, fs, "-f", "fw.asm", "-b", "dead 100", "--config.file", "addr2func.yaml", "-o", "console")
	require.Equal(t, 0, res.code)
	require.Equal(t, "foo\n", res.stdout)
	require.Equal(t, "dead: unresolved\n", res.stderr)

	// an explicit --no-<flag> switches off what the file enabled
	res = runWith(t, fs, "-f", "missing.asm", "-b", "100", "--config.file", "strict.yaml", "--no-fail-on-error")
	require.Equal(t, 0, res.code)
	require.Equal(t, "open missing.asm: file does not exist\n", res.stdout)

	res = runWith(t, fs, "-f", "missing.asm", "-b", "100", "--config.file", "strict.yaml")
	require.Equal(t, 1, res.code)

	res = runWith(t, fs, "-f", "fw.asm", "-b", "dead 100", "--config.file", "addr2func.yaml", "-o", "console", "--no-report-unresolved")
	require.Equal(t, 0, res.code)
	require.Equal(t, "foo\n", res.stdout)
	require.Empty(t, res.stderr)

	res = runWith(t, fs, "-f", "fw.asm", "-b", "100", "--config.file", "broken.yaml")
	require.Equal(t, 1, res.code)
	require.Contains(t, res.stderr, `invalid output "xml"`)
	require.Contains(t, res.stderr, `unknown resolve mode "fast"`)

	res = runWith(t, fs, "-f", "fw.asm", "-b", "100", "--config.file", "unknown.yaml")
	require.Equal(t, 1, res.code)
	require.Contains(t, res.stderr, "outptu")

	res = runWith(t, fs, "-f", "fw.asm", "-b", "100", "--config.file", "missing.yaml")
	require.Equal(t, 1, res.code)
	require.Empty(t, res.stdout)
}

func Test_RunVerbose(t *testing.T) {
	fs := testFs(t, map[string]string{"fw.asm": listing})

	res := runWith(t, fs, "-f", "fw.asm", "-b", "100", "-v")
	require.Equal(t, 0, res.code)
	require.Equal(t, "foo\n", res.stdout)
	require.Contains(t, res.stderr, "level=debug")
	require.Contains(t, res.stderr, `msg="backtrace resolved"`)
}

// seekFailFs hands out files whose Seek fails after a number of calls.
type seekFailFs struct {
	afero.Fs
	okSeeks int
}

func (fs seekFailFs) Open(name string) (afero.File, error) {
	f, err := fs.Fs.Open(name)
	if err != nil {
		return nil, err
	}
	return &seekFailFile{File: f, okSeeks: fs.okSeeks}, nil
}

type seekFailFile struct {
	afero.File
	okSeeks int
}

func (f *seekFailFile) Seek(offset int64, whence int) (int64, error) {
	if f.okSeeks == 0 {
		return 0, errors.New("device unplugged")
	}
	f.okSeeks--
	return f.File.Seek(offset, whence)
}

func Test_RunTableOutputPartialFailure(t *testing.T) {
	fs := seekFailFs{Fs: testFs(t, map[string]string{"fw.asm": listing}), okSeeks: 1}

	res := runWith(t, fs, "-f", "fw.asm", "-b", "100 200", "-o", "table")
	require.Equal(t, 0, res.code)
	require.Contains(t, res.stdout, "Address")
	require.Contains(t, res.stdout, "foo")
	require.NotContains(t, res.stdout, "bar")
	require.True(t, strings.HasSuffix(res.stdout, "rewinding listing fw.asm: device unplugged\n"))
	require.Less(t, strings.Index(res.stdout, "foo"), strings.Index(res.stdout, "device unplugged"))
}
