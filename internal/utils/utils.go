package utils

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Utility functions for file operations and path validation

// Source languages the tools understand
const (
	LangPython = "python"
	LangJava   = "java"
	LangXML    = "xml"
)

// ErrUnsupportedFile is returned for files no tool can read
var ErrUnsupportedFile = errors.New("unsupported file type")

// SupportedExtensions are the file types the chat, watcher and reviewers accept
var SupportedExtensions = []string{".py", ".java", ".xml"}

// Language maps a path to its source language, or "" when unsupported
func Language(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".py":
		return LangPython
	case ".java":
		return LangJava
	case ".xml":
		return LangXML
	}
	return ""
}

// IsSupportedFile reports whether path has a supported extension
func IsSupportedFile(path string) bool {
	return Language(path) != ""
}

// FileExists checks if a regular file exists
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// IsValidFilePath reports whether filePath stays inside basePath
func IsValidFilePath(filePath, basePath string) bool {
	absFilePath, err := filepath.Abs(filePath)
	if err != nil {
		return false
	}

	absBasePath, err := filepath.Abs(basePath)
	if err != nil {
		return false
	}

	relPath, err := filepath.Rel(absBasePath, absFilePath)
	if err != nil {
		return false
	}

	if relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) {
		return false
	}

	return !filepath.IsAbs(relPath)
}

// ResolveInDir joins name onto dir and rejects anything escaping dir. Absolute
// names are accepted only when they already point inside dir.
func ResolveInDir(dir, name string) (string, error) {
	candidate := name
	if !filepath.IsAbs(name) {
		candidate = filepath.Join(dir, filepath.FromSlash(name))
	}
	if !IsValidFilePath(candidate, dir) {
		return "", fmt.Errorf("path %q escapes %s", name, dir)
	}
	// symlinks inside dir must not lead out of it
	if real, err := filepath.EvalSymlinks(candidate); err == nil {
		realDir, err := filepath.EvalSymlinks(dir)
		if err != nil || !IsValidFilePath(real, realDir) {
			return "", fmt.Errorf("path %q escapes %s", name, dir)
		}
	}
	return filepath.Clean(candidate), nil
}

// SaveUpload writes an uploaded file into a fresh temp directory under its
// original base name, so tools that key on the name (pom.xml,
// requirements.txt) still recognize it. cleanup removes the directory.
func SaveUpload(name string, r io.Reader) (path string, cleanup func(), err error) {
	base := filepath.Base(filepath.FromSlash(strings.ReplaceAll(name, "\\", "/")))
	if base == "." || base == ".." || base == string(filepath.Separator) {
		return "", nil, fmt.Errorf("invalid upload name %q", name)
	}

	dir, err := os.MkdirTemp("", "devguard-upload-*")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	cleanup = func() { os.RemoveAll(dir) }

	path = filepath.Join(dir, base)
	f, err := os.Create(path)
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to save upload: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		cleanup()
		return "", nil, fmt.Errorf("failed to save upload: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to save upload: %w", err)
	}
	return path, cleanup, nil
}

// UniqueStrings returns a slice with unique strings, keeping first occurrences
func UniqueStrings(slice []string) []string {
	keys := make(map[string]bool)
	var result []string
	for _, item := range slice {
		if !keys[item] {
			keys[item] = true
			result = append(result, item)
		}
	}
	return result
}

// IsInSlice checks if a string is in a slice
func IsInSlice(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
