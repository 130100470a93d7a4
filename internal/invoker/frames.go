package invoker

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// framePattern matches the engine's templated frame filenames,
// e.g. "BG_3fa91c22_00000.png".
var framePattern = regexp.MustCompile(`_\d+\.[A-Za-z0-9]+$`)

// imageExtensions are the recognized fallback output types, in case the
// engine named its frames differently than the output template asked for.
var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".tif":  true,
	".tiff": true,
	".exr":  true,
	".tga":  true,
	".bmp":  true,
	".psd":  true,
}

// FindFirstFrame locates the first rendered frame for a token inside its
// output directory. Frame-templated names for the token are preferred,
// sorted lexicographically so the lowest frame number wins; when none match,
// any file with a recognized image extension is accepted.
func FindFirstFrame(outputDir, tokenID string) (string, bool) {
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return "", false
	}

	var frames, images []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, tokenID+"_") && framePattern.MatchString(name) {
			frames = append(frames, name)
			continue
		}
		if imageExtensions[strings.ToLower(filepath.Ext(name))] {
			images = append(images, name)
		}
	}

	if len(frames) > 0 {
		sort.Strings(frames)
		return filepath.Join(outputDir, frames[0]), true
	}
	if len(images) > 0 {
		sort.Strings(images)
		return filepath.Join(outputDir, images[0]), true
	}
	return "", false
}
