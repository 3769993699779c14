package license

import "strings"

// License ratings
const (
	RatingPermissive     = "✅ Permissive"
	RatingWeakCopyleft   = "⚠️ Weak copyleft"
	RatingStrongCopyleft = "❌ Strong copyleft"
	RatingUnknown        = "❓ Unknown"
)

var (
	weakCopyleft   = []string{"LGPL", "LESSER GENERAL", "MPL", "MOZILLA", "EPL", "ECLIPSE", "CDDL"}
	strongCopyleft = []string{"AGPL", "AFFERO", "GPL", "GENERAL PUBLIC", "SSPL"}
	permissive     = []string{"MIT", "BSD", "APACHE", "ISC", "ZLIB", "UNLICENSE", "PSF", "PYTHON SOFTWARE", "0BSD", "CC0", "HPND"}
)

// RateLicense classifies a license name. Weak copyleft is checked before
// strong since "LGPL" contains "GPL".
func RateLicense(name string) string {
	upper := strings.ToUpper(strings.TrimSpace(name))
	if upper == "" || upper == "UNKNOWN" {
		return RatingUnknown
	}
	for _, k := range weakCopyleft {
		if strings.Contains(upper, k) {
			return RatingWeakCopyleft
		}
	}
	for _, k := range strongCopyleft {
		if strings.Contains(upper, k) {
			return RatingStrongCopyleft
		}
	}
	for _, k := range permissive {
		if strings.Contains(upper, k) {
			return RatingPermissive
		}
	}
	return RatingUnknown
}
