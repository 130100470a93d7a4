package invoker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okonma/rendercache/internal/config"
	errs "github.com/okonma/rendercache/internal/errors"
	"github.com/okonma/rendercache/internal/logging"
	"github.com/okonma/rendercache/internal/token"
)

// writeStubEngine writes an executable shell script standing in for the
// render engine.
func writeStubEngine(t *testing.T, dir, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub engine scripts require a POSIX shell")
	}
	path := filepath.Join(dir, "stub-engine")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0755))
	return path
}

func testInvoker(t *testing.T, executable string, timeout time.Duration) (*Invoker, string) {
	t.Helper()
	cacheDir := t.TempDir()
	inv := New(config.RenderConfig{
		Concurrency:    1,
		Format:         "png",
		ExecutablePath: executable,
		CacheDir:       cacheDir,
		Timeout:        timeout,
	}, logging.Nop())
	return inv, cacheDir
}

func testToken(name string) *token.Token {
	return &token.Token{
		TokenID:  name + "_1a2b3c4d",
		Hash:     "1a2b3c4d",
		Name:     name,
		LayerRef: name,
		Status:   token.StatusPending,
	}
}

func writeSource(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "project.aep")
	require.NoError(t, os.WriteFile(path, []byte("project"), 0644))
	return path
}

func TestIsAvailable(t *testing.T) {
	t.Run("missing executable", func(t *testing.T) {
		inv, _ := testInvoker(t, filepath.Join(t.TempDir(), "nope"), time.Minute)
		assert.False(t, inv.IsAvailable())
	})

	t.Run("present executable", func(t *testing.T) {
		dir := t.TempDir()
		exe := writeStubEngine(t, dir, "exit 0")
		inv, _ := testInvoker(t, exe, time.Minute)
		assert.True(t, inv.IsAvailable())
		assert.Equal(t, exe, inv.Executable())
	})
}

func TestRender_FailsFastWithoutEngine(t *testing.T) {
	inv, _ := testInvoker(t, filepath.Join(t.TempDir(), "nope"), time.Minute)

	_, err := inv.Render(context.Background(), testToken("BG"), "/does/not/matter.aep")
	require.Error(t, err)
	assert.True(t, errs.IsCategory(err, errs.CategoryValidation))
	assert.Equal(t, 0, inv.ActiveCount(), "validation failure must not spawn a subprocess")
}

func TestRender_FailsFastWithoutSource(t *testing.T) {
	dir := t.TempDir()
	exe := writeStubEngine(t, dir, "exit 0")
	inv, _ := testInvoker(t, exe, time.Minute)

	_, err := inv.Render(context.Background(), testToken("BG"), filepath.Join(dir, "missing.aep"))
	require.Error(t, err)
	assert.True(t, errs.IsCategory(err, errs.CategoryValidation))
}

func TestRender_Success(t *testing.T) {
	dir := t.TempDir()
	exe := writeStubEngine(t, dir, `echo "PROGRESS: 0:00:00:01 (1): 0 Seconds"
exit 0`)
	inv, cacheDir := testInvoker(t, exe, time.Minute)
	source := writeSource(t, dir)

	tok := testToken("BG")
	// The stub engine produces nothing itself; stage the frame where the
	// engine would have written it.
	outputDir := token.RenderDir(cacheDir, tok.TokenID)
	require.NoError(t, os.MkdirAll(outputDir, 0755))
	framePath := filepath.Join(outputDir, tok.TokenID+"_00000.png")
	require.NoError(t, os.WriteFile(framePath, []byte("frame"), 0644))

	result, err := inv.Render(context.Background(), tok, source)
	require.NoError(t, err)
	assert.Equal(t, tok.TokenID, result.TokenID)
	assert.Equal(t, outputDir, result.RenderPath)
	assert.Equal(t, framePath, result.FirstFrame)
	assert.FileExists(t, result.LogPath, "captured output log is written on every outcome")
	assert.Equal(t, 0, inv.ActiveCount())

	captured, err := os.ReadFile(result.LogPath)
	require.NoError(t, err)
	assert.Contains(t, string(captured), "PROGRESS")
}

func TestRender_SilentFailure(t *testing.T) {
	dir := t.TempDir()
	exe := writeStubEngine(t, dir, "exit 0")
	inv, _ := testInvoker(t, exe, time.Minute)
	source := writeSource(t, dir)

	_, err := inv.Render(context.Background(), testToken("BG"), source)
	require.Error(t, err)

	re, ok := err.(*errs.RenderError)
	require.True(t, ok)
	assert.Equal(t, "ERR_NO_OUTPUT", re.Code)
}

func TestRender_FailureClassified(t *testing.T) {
	dir := t.TempDir()
	exe := writeStubEngine(t, dir, `echo "aerender ERROR: Missing footage in layer 2" >&2
exit 1`)
	inv, cacheDir := testInvoker(t, exe, time.Minute)
	source := writeSource(t, dir)

	tok := testToken("BG")
	_, err := inv.Render(context.Background(), tok, source)
	require.Error(t, err)
	assert.True(t, errs.IsCategory(err, errs.CategoryResourceNotFound))

	logPath := filepath.Join(token.RenderDir(cacheDir, tok.TokenID), tok.TokenID+".log")
	assert.FileExists(t, logPath)
}

func TestRender_Timeout(t *testing.T) {
	dir := t.TempDir()
	exe := writeStubEngine(t, dir, "sleep 30")
	inv, _ := testInvoker(t, exe, 150*time.Millisecond)
	source := writeSource(t, dir)

	start := time.Now()
	_, err := inv.Render(context.Background(), testToken("BG"), source)
	require.Error(t, err)
	assert.True(t, errs.IsCategory(err, errs.CategoryTimeout))
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestRender_RejectsDuplicateSubprocess(t *testing.T) {
	dir := t.TempDir()
	exe := writeStubEngine(t, dir, "sleep 5")
	inv, _ := testInvoker(t, exe, time.Minute)
	source := writeSource(t, dir)

	tok := testToken("BG")
	done := make(chan struct{})
	go func() {
		defer close(done)
		inv.Render(context.Background(), tok, source)
	}()

	require.Eventually(t, func() bool {
		return inv.IsRendering(tok.TokenID)
	}, 5*time.Second, 10*time.Millisecond)

	_, err := inv.Render(context.Background(), tok, source)
	require.Error(t, err)
	re, ok := err.(*errs.RenderError)
	require.True(t, ok)
	assert.Equal(t, "ERR_ALREADY_RENDERING", re.Code)

	require.True(t, inv.Cancel(tok.TokenID))
	<-done
}

func TestCancel(t *testing.T) {
	t.Run("no matching process", func(t *testing.T) {
		inv, _ := testInvoker(t, filepath.Join(t.TempDir(), "nope"), time.Minute)
		assert.False(t, inv.Cancel("BG_1a2b3c4d"))
		assert.False(t, inv.Cancel("BG_1a2b3c4d"), "idempotent with nothing active")
	})

	t.Run("active render resolves as cancelled", func(t *testing.T) {
		dir := t.TempDir()
		exe := writeStubEngine(t, dir, "sleep 30")
		inv, _ := testInvoker(t, exe, time.Minute)
		source := writeSource(t, dir)

		tok := testToken("BG")
		errCh := make(chan error, 1)
		go func() {
			_, err := inv.Render(context.Background(), tok, source)
			errCh <- err
		}()

		require.Eventually(t, func() bool {
			return inv.IsRendering(tok.TokenID)
		}, 5*time.Second, 10*time.Millisecond)

		assert.True(t, inv.Cancel(tok.TokenID))

		select {
		case err := <-errCh:
			require.Error(t, err)
			assert.True(t, IsCancelled(err))
		case <-time.After(10 * time.Second):
			t.Fatal("cancelled render never resolved")
		}
		assert.False(t, inv.IsRendering(tok.TokenID))
	})
}

func TestActiveRenders(t *testing.T) {
	dir := t.TempDir()
	exe := writeStubEngine(t, dir, "sleep 30")
	inv, _ := testInvoker(t, exe, time.Minute)
	source := writeSource(t, dir)

	assert.Empty(t, inv.ActiveRenders())

	tok := testToken("BG")
	go inv.Render(context.Background(), tok, source)

	require.Eventually(t, func() bool {
		return inv.ActiveCount() == 1
	}, 5*time.Second, 10*time.Millisecond)

	renders := inv.ActiveRenders()
	require.Len(t, renders, 1)
	assert.Equal(t, tok.TokenID, renders[0].TokenID)
	assert.False(t, renders[0].StartedAt.IsZero())

	inv.Cancel(tok.TokenID)
}

func TestBuildArgs(t *testing.T) {
	inv, cacheDir := testInvoker(t, "/usr/bin/true", time.Minute)

	tok := testToken("BG")
	args := inv.buildArgs(tok, "/work/project.aep", token.RenderDir(cacheDir, tok.TokenID))

	assert.Equal(t, "-project", args[0])
	assert.Equal(t, "/work/project.aep", args[1])
	assert.Contains(t, args, "-comp")
	assert.Contains(t, args, "BG")
	assert.Contains(t, args, "-continueOnMissingFootage")
	assert.Contains(t, args, "-sound")

	var output string
	for i, arg := range args {
		if arg == "-output" {
			output = args[i+1]
		}
	}
	assert.Contains(t, output, tok.TokenID+"_[#####].png",
		"output path is templated with frame-number placeholders")
}

func TestBuildArgs_FallsBackToNameWithoutLayerRef(t *testing.T) {
	inv, cacheDir := testInvoker(t, "/usr/bin/true", time.Minute)

	tok := testToken("BG")
	tok.LayerRef = ""
	args := inv.buildArgs(tok, "/work/project.aep", token.RenderDir(cacheDir, tok.TokenID))

	for i, arg := range args {
		if arg == "-comp" {
			assert.Equal(t, "BG", args[i+1])
			return
		}
	}
	t.Fatal("no -comp argument")
}

func TestEngineBinaryName(t *testing.T) {
	name := engineBinaryName()
	if runtime.GOOS == "windows" {
		assert.Equal(t, "aerender.exe", name)
	} else {
		assert.Equal(t, "aerender", name)
	}
}

func TestStubScenario_SuccessProducesFramesFromTemplate(t *testing.T) {
	// End-to-end shape of a healthy engine: parse the -output template and
	// actually write the first frame.
	dir := t.TempDir()
	exe := writeStubEngine(t, dir, `out=""
while [ $# -gt 0 ]; do
  if [ "$1" = "-output" ]; then out="$2"; fi
  shift
done
frame=$(echo "$out" | sed 's/\[#####\]/00000/')
echo "PROGRESS: 0:00:00:01 (1): 0 Seconds"
echo "frame" > "$frame"
exit 0`)
	inv, cacheDir := testInvoker(t, exe, time.Minute)
	source := writeSource(t, dir)

	tok := testToken("SHOT01")
	result, err := inv.Render(context.Background(), tok, source)
	require.NoError(t, err)
	assert.Equal(t, token.FirstFramePath(cacheDir, tok.TokenID, "png"), result.FirstFrame)
	assert.FileExists(t, result.FirstFrame)
}

func ExampleFindFirstFrame() {
	dir, _ := os.MkdirTemp("", "frames")
	defer os.RemoveAll(dir)
	os.WriteFile(filepath.Join(dir, "BG_1a2b3c4d_00001.png"), []byte("1"), 0644)
	os.WriteFile(filepath.Join(dir, "BG_1a2b3c4d_00000.png"), []byte("0"), 0644)

	first, ok := FindFirstFrame(dir, "BG_1a2b3c4d")
	fmt.Println(ok, filepath.Base(first))
	// Output: true BG_1a2b3c4d_00000.png
}
