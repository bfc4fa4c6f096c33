// Package voices resolves the voices a synthesis request may use: the closed set
// of preset speakers and the reference recordings used for voice cloning.
package voices

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/book-expert/audio-service/internal/core"
)

// Reference asset defaults.
const (
	DefaultDir          = "voices"
	DefaultPrefix       = "selina"
	transcriptExtension = ".txt"
)

// File extension constants.
const (
	extAAC  = ".aac"
	extFLAC = ".flac"
	extM4A  = ".m4a"
	extMP3  = ".mp3"
	extOGG  = ".ogg"
	extWAV  = ".wav"
	extWebM = ".webm"
)

// Reference recordings are searched in this order.
var referenceExtensions = []string{extWAV, extMP3, extFLAC}

// Error message and format string constants.
const (
	errFmtCouldNotResolveAbsolutePath = "could not resolve absolute path for %q: %w"
	errFmtErrorCheckingPath           = "error checking reference path %q: %w"
	errFmtReadReference               = "failed to read reference %q: %w"
	errFmtNoReference                 = "no reference audio available; upload ref_audio or add the default voice file %s"
	errFmtInvalidLanguage             = "invalid reference language %q"
)

// Asset is a reference recording and its optional transcript.
type Asset struct {
	AudioPath  string
	Transcript string
}

// Library finds default reference recordings named <prefix>_<lang>.<ext> in one directory.
type Library struct {
	dir    string
	prefix string
}

// NewLibrary returns a Library rooted at dir. Empty values select the defaults.
func NewLibrary(dir, prefix string) *Library {
	if strings.TrimSpace(dir) == "" {
		dir = DefaultDir
	}

	if strings.TrimSpace(prefix) == "" {
		prefix = DefaultPrefix
	}

	return &Library{dir: dir, prefix: prefix}
}

// ExpectedFile names the preferred default recording for language, without
// its directory.
func (l *Library) ExpectedFile(language string) string {
	return l.prefix + "_" + language + extWAV
}

// Find locates the default recording for language. A missing recording is not
// an error; found reports whether one exists. Names that would leave the
// library directory are rejected as client input.
func (l *Library) Find(language string) (asset Asset, found bool, err error) {
	for _, ext := range referenceExtensions {
		candidate, pathErr := l.candidate(language, ext)
		if pathErr != nil {
			return Asset{}, false, pathErr
		}

		resolvedPath, exists, resolveErr := resolveSinglePath(candidate)
		if resolveErr != nil {
			return Asset{}, false, resolveErr
		}

		if !exists {
			continue
		}

		transcript, readErr := readTranscript(strings.TrimSuffix(resolvedPath, ext) + transcriptExtension)
		if readErr != nil {
			return Asset{}, false, readErr
		}

		return Asset{AudioPath: resolvedPath, Transcript: transcript}, true, nil
	}

	return Asset{}, false, nil
}

// Load returns the default recording for language and its transcript. When no
// recording exists the error wraps core.ErrResourceUnavailable.
func (l *Library) Load(language string) ([]byte, string, error) {
	asset, found, err := l.Find(language)
	if err != nil {
		return nil, "", err
	}

	if !found {
		return nil, "", core.ResourceUnavailableError(fmt.Sprintf(errFmtNoReference, l.ExpectedFile(language)))
	}

	data, err := os.ReadFile(asset.AudioPath)
	if err != nil {
		return nil, "", fmt.Errorf(errFmtReadReference, asset.AudioPath, err)
	}

	return data, asset.Transcript, nil
}

// candidate joins the recording name for language and ext onto the library
// directory. The name must be a single path element inside that directory.
func (l *Library) candidate(language, ext string) (string, error) {
	name := l.prefix + "_" + language + ext
	if filepath.Base(name) != name || strings.ContainsAny(name, `/\`) {
		return "", core.ClientInputError(fmt.Sprintf(errFmtInvalidLanguage, language))
	}

	candidate := filepath.Join(l.dir, name)
	if filepath.Dir(candidate) != filepath.Clean(l.dir) {
		return "", core.ClientInputError(fmt.Sprintf(errFmtInvalidLanguage, language))
	}

	return candidate, nil
}

func readTranscript(path string) (string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf(errFmtReadReference, path, err)
	}

	return strings.TrimSpace(string(data)), nil
}

// resolveSinglePath checks if a file exists at a given path.
// If it exists, it returns the absolute path and found=true.
// If it doesn't exist, it returns found=false and no error.
// If a file system error other than "not found" occurs, it returns an error.
func resolveSinglePath(path string) (resolvedPath string, found bool, err error) {
	info, statErr := os.Stat(path)
	if statErr == nil {
		if info.IsDir() {
			return "", false, nil
		}

		absPath, errAbs := filepath.Abs(path)
		if errAbs != nil {
			return "", false, fmt.Errorf(errFmtCouldNotResolveAbsolutePath, path, errAbs)
		}

		return absPath, true, nil
	} else if !os.IsNotExist(statErr) {
		return "", false, fmt.Errorf(errFmtErrorCheckingPath, path, statErr)
	}

	return "", false, nil
}

// IsValidAudioFile checks if a filename has a common audio file extension.
func IsValidAudioFile(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case extWAV, extMP3, extFLAC, extOGG, extM4A, extAAC, extWebM:
		return true
	default:
		return false
	}
}
