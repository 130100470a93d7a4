package errors

import (
	"fmt"
	"strings"
)

// failureRule maps known failure signatures in engine output to a category.
// Rules are checked in order; the first whose every needle appears in the
// lowercased output wins. New signatures are added by appending a rule.
type failureRule struct {
	needles  []string
	category Category
	code     string
	message  string
}

var failureRules = []failureRule{
	{
		needles:  []string{"missing footage"},
		category: CategoryResourceNotFound,
		code:     "ERR_MISSING_FOOTAGE",
		message:  "the project references footage that could not be found; relink the missing items and re-render",
	},
	{
		needles:  []string{"file not found"},
		category: CategoryResourceNotFound,
		code:     "ERR_FILE_NOT_FOUND",
		message:  "the engine could not open a file the project depends on",
	},
	{
		needles:  []string{"no composition"},
		category: CategoryResourceNotFound,
		code:     "ERR_COMP_NOT_FOUND",
		message:  "no composition with the requested name exists in the project",
	},
	{
		needles:  []string{"license"},
		category: CategoryLicensing,
		code:     "ERR_LICENSE",
		message:  "the render engine reported a licensing problem; sign in to the host application and retry",
	},
	{
		needles:  []string{"activation"},
		category: CategoryLicensing,
		code:     "ERR_LICENSE",
		message:  "the render engine reported an activation problem; sign in to the host application and retry",
	},
	{
		needles:  []string{"out of memory"},
		category: CategoryMemory,
		code:     "ERR_OUT_OF_MEMORY",
		message:  "the engine ran out of memory; close other applications or lower the composition resolution",
	},
	{
		needles:  []string{"unable to allocate"},
		category: CategoryMemory,
		code:     "ERR_OUT_OF_MEMORY",
		message:  "the engine ran out of memory; close other applications or lower the composition resolution",
	},
	{
		needles:  []string{"output module"},
		category: CategoryOutputModule,
		code:     "ERR_OUTPUT_MODULE",
		message:  "the requested output module is not available in this engine install; check the configured format",
	},
	{
		needles:  []string{"codec"},
		category: CategoryOutputModule,
		code:     "ERR_OUTPUT_MODULE",
		message:  "the engine rejected the output codec; check the configured format",
	},
}

// ClassifyFailure maps captured engine output plus the exit code to a
// RenderError. Unknown signatures fall back to CategoryInternal with a
// generic exit-code message pointing at the captured job log.
func ClassifyFailure(output string, exitCode int, logPath string) *RenderError {
	lowered := strings.ToLower(output)

	for _, rule := range failureRules {
		matched := true
		for _, needle := range rule.needles {
			if !strings.Contains(lowered, needle) {
				matched = false
				break
			}
		}
		if matched {
			return New(rule.category, rule.code, rule.message).
				WithContext("exit_code", exitCode).
				WithContext("log_path", logPath)
		}
	}

	return New(CategoryInternal, "ERR_RENDER_FAILED",
		fmt.Sprintf("render failed with exit code %d; see %s for the captured engine output", exitCode, logPath)).
		WithContext("exit_code", exitCode).
		WithContext("log_path", logPath)
}

// ClassifySilentFailure covers the zero-exit, no-output case: the engine can
// report success while producing nothing, e.g. when the composition name did
// not match anything renderable.
func ClassifySilentFailure(logPath string) *RenderError {
	return New(CategoryInternal, "ERR_NO_OUTPUT",
		fmt.Sprintf("the engine exited cleanly but produced no frames; check the composition name and see %s", logPath)).
		WithContext("log_path", logPath)
}
