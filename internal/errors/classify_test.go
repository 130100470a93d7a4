package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyFailure(t *testing.T) {
	tests := []struct {
		name     string
		output   string
		category Category
	}{
		{
			name:     "missing footage",
			output:   "aerender ERROR: After Effects error: Missing footage in layer 3",
			category: CategoryResourceNotFound,
		},
		{
			name:     "file not found",
			output:   "ERROR: File not found: /assets/bg.mov",
			category: CategoryResourceNotFound,
		},
		{
			name:     "composition not found",
			output:   "aerender ERROR: No composition named \"BG v2\" in project",
			category: CategoryResourceNotFound,
		},
		{
			name:     "licensing",
			output:   "ERROR: license check failed, please sign in",
			category: CategoryLicensing,
		},
		{
			name:     "activation",
			output:   "ERROR: activation required before rendering",
			category: CategoryLicensing,
		},
		{
			name:     "out of memory",
			output:   "After Effects: Out of memory. (need 512 MB more)",
			category: CategoryMemory,
		},
		{
			name:     "allocation failure",
			output:   "ERROR: unable to allocate enough memory to render frame",
			category: CategoryMemory,
		},
		{
			name:     "output module",
			output:   "aerender ERROR: output module failed to initialize",
			category: CategoryOutputModule,
		},
		{
			name:     "codec",
			output:   "ERROR: the specified codec is not installed",
			category: CategoryOutputModule,
		},
		{
			name:     "unknown failure falls back to internal",
			output:   "segmentation fault (core dumped)",
			category: CategoryInternal,
		},
		{
			name:     "empty output falls back to internal",
			output:   "",
			category: CategoryInternal,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ClassifyFailure(tc.output, 1, "/tmp/job.log")
			require.NotNil(t, err)
			assert.Equal(t, tc.category, err.Category)
			assert.NotEmpty(t, err.Message)
			assert.Equal(t, 1, err.Context["exit_code"])
		})
	}
}

func TestClassifyFailure_FallbackMentionsExitCodeAndLog(t *testing.T) {
	err := ClassifyFailure("something inexplicable", 137, "/cache/renders/BG_1a2b3c4d/BG_1a2b3c4d.log")
	assert.Equal(t, CategoryInternal, err.Category)
	assert.Contains(t, err.Message, "exit code 137")
	assert.Contains(t, err.Message, "BG_1a2b3c4d.log")
}

func TestClassifyFailure_CaseInsensitive(t *testing.T) {
	err := ClassifyFailure("MISSING FOOTAGE detected", 1, "/tmp/job.log")
	assert.Equal(t, CategoryResourceNotFound, err.Category)
}

func TestClassifySilentFailure(t *testing.T) {
	err := ClassifySilentFailure("/tmp/job.log")
	assert.Equal(t, CategoryInternal, err.Category)
	assert.Equal(t, "ERR_NO_OUTPUT", err.Code)
	assert.Contains(t, err.Message, "/tmp/job.log")
}

func TestRenderError_ErrorAndUnwrap(t *testing.T) {
	cause := assert.AnError
	err := Wrap(cause, CategoryValidation, "ERR_NO_SOURCE", "source project missing")

	assert.Contains(t, err.Error(), "ERR_NO_SOURCE")
	assert.Contains(t, err.Error(), "source project missing")
	assert.ErrorIs(t, err, cause)
}

func TestIsCategory(t *testing.T) {
	err := ValidationError("ERR_NO_ENGINE", "no engine")
	assert.True(t, IsCategory(err, CategoryValidation))
	assert.False(t, IsCategory(err, CategoryMemory))
	assert.False(t, IsCategory(nil, CategoryValidation))
}

func TestTimeoutError(t *testing.T) {
	err := TimeoutError("BG_1a2b3c4d", 30)
	assert.Equal(t, CategoryTimeout, err.Category)
	assert.Contains(t, err.Message, "30 minute")
	assert.Equal(t, "BG_1a2b3c4d", err.Context["token_id"])
}
