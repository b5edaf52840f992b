// Package security validates untrusted values before they touch the
// filesystem or the network: filenames for saved images and the generation
// service base URL.
package security

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

var (
	ErrPathTraversal = fmt.Errorf("path traversal detected")
	ErrAbsolutePath  = fmt.Errorf("absolute paths are not allowed")
	ErrReservedName  = fmt.Errorf("reserved filename not allowed")
	ErrInvalidScheme = fmt.Errorf("base URL must be http or https")
	ErrMissingHost   = fmt.Errorf("base URL has no host")

	windowsReservedNames = map[string]bool{
		"con": true, "prn": true, "aux": true, "nul": true,
		"com1": true, "com2": true, "com3": true, "com4": true,
		"com5": true, "com6": true, "com7": true, "com8": true, "com9": true,
		"lpt1": true, "lpt2": true, "lpt3": true, "lpt4": true,
		"lpt5": true, "lpt6": true, "lpt7": true, "lpt8": true, "lpt9": true,
	}
)

// ValidateFilename checks a bare filename for a saved image. Filenames
// arrive from the presenter today but the check holds for any transport.
func ValidateFilename(name string) error {
	if filepath.IsAbs(name) {
		return ErrAbsolutePath
	}
	cleaned := filepath.Clean(name)
	if strings.HasPrefix(cleaned, "..") || strings.Contains(name, "..") {
		return ErrPathTraversal
	}
	if cleaned != filepath.Base(cleaned) {
		return ErrPathTraversal
	}
	base := strings.ToLower(cleaned)
	if windowsReservedNames[strings.TrimSuffix(base, filepath.Ext(base))] {
		return ErrReservedName
	}
	return nil
}

// ValidateBaseURL checks the generation service base URL from config or the
// environment before any request is built against it.
func ValidateBaseURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return ErrInvalidScheme
	}
	if parsed.Hostname() == "" {
		return ErrMissingHost
	}
	return nil
}
