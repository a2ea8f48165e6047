package dialogue

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/theimaginaryfoundation/memoir-bot/dialogue/fileutils"
)

// Stage names, used for logging and metrics labels.
const (
	StageSynth     = "synth"
	StageExtract   = "extract"
	StageEmotion   = "emotion"
	StageReconcile = "reconcile"
)

// ErrConfig marks configuration errors: the batch did no work. Callers exit with code 2.
var ErrConfig = errors.New("configuration error")

// BatchResult summarizes one stage run over a directory (or a single file).
type BatchResult struct {
	Files   int
	Written int
	Skipped int
	Outputs []string
}

func loggerOr(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.Default()
}

// prepareBatch validates the input and output locations and lists the session files.
// A missing input or an output that would overwrite the input is a configuration error.
func prepareBatch(inPath, outDir string, opts fileutils.CollectOptions) ([]string, error) {
	if strings.TrimSpace(inPath) == "" {
		return nil, fmt.Errorf("%w: input path is empty", ErrConfig)
	}
	if strings.TrimSpace(outDir) == "" {
		return nil, fmt.Errorf("%w: output dir is empty", ErrConfig)
	}
	if !fileutils.FileExists(inPath) {
		return nil, fmt.Errorf("%w: input not found: %s", ErrConfig, inPath)
	}
	if sameDir(inputDir(inPath), outDir) {
		return nil, fmt.Errorf("%w: output dir must differ from input dir: %s", ErrConfig, outDir)
	}
	files, err := fileutils.CollectJSONFiles(inPath, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return files, nil
}

func inputDir(inPath string) string {
	if fileutils.DirExists(inPath) {
		return inPath
	}
	return filepath.Dir(inPath)
}

func sameDir(a, b string) bool {
	aa, err1 := filepath.Abs(a)
	bb, err2 := filepath.Abs(b)
	if err1 != nil || err2 != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return aa == bb
}

// SessionBaseName is the file name without directory or .json extension.
func SessionBaseName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}
