// Package content scans event payloads and commit patches for exposed
// secrets, suspicious files and destructive change shapes. Pattern matching
// runs against compiled regexes; every hit is reported with a truncated
// preview so raw secrets never leave the detector.
package content

import (
	"regexp"
	"strings"
)

// SecretPattern pairs a compiled detector regex with its severity.
type SecretPattern struct {
	Name     string
	Severity float64
	Regex    *regexp.Regexp
}

// secretPatterns is compiled once at package init. Order is stable so match
// reporting is deterministic.
var secretPatterns = []SecretPattern{
	{Name: "aws_access_key", Severity: 0.9, Regex: regexp.MustCompile(`AKIA[0-9A-Z]{16}`)},
	{Name: "aws_secret_key", Severity: 0.9, Regex: regexp.MustCompile(`(?i)aws.{0,20}?(secret|private).{0,20}?['"][0-9a-zA-Z/+]{40}['"]`)},
	{Name: "github_pat", Severity: 0.9, Regex: regexp.MustCompile(`ghp_[A-Za-z0-9]{36}`)},
	{Name: "github_oauth", Severity: 0.8, Regex: regexp.MustCompile(`gho_[A-Za-z0-9]{36}`)},
	{Name: "github_app_token", Severity: 0.8, Regex: regexp.MustCompile(`gh[us]_[A-Za-z0-9]{36}`)},
	{Name: "private_key", Severity: 0.9, Regex: regexp.MustCompile(`-----BEGIN (?:RSA |EC |DSA |OPENSSH |PGP )?PRIVATE KEY(?: BLOCK)?-----`)},
	{Name: "jwt", Severity: 0.7, Regex: regexp.MustCompile(`eyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}`)},
	{Name: "slack_token", Severity: 0.8, Regex: regexp.MustCompile(`xox[baprs]-[0-9]{12}-[0-9]{12}-[a-zA-Z0-9]{24}`)},
	{Name: "stripe_live_key", Severity: 0.9, Regex: regexp.MustCompile(`sk_live_[a-zA-Z0-9]{24}`)},
	{Name: "generic_api_key", Severity: 0.6, Regex: regexp.MustCompile(`(?i)api[_-]?key\s*[:=]\s*['"][^'"]{8,}['"]`)},
	{Name: "password_assignment", Severity: 0.5, Regex: regexp.MustCompile(`(?i)password\s*[:=]\s*['"][^'"]{6,}['"]`)},
	{Name: "secret_assignment", Severity: 0.6, Regex: regexp.MustCompile(`(?i)secret\s*[:=]\s*['"][^'"]{8,}['"]`)},
	{Name: "token_assignment", Severity: 0.5, Regex: regexp.MustCompile(`(?i)(?:auth|access|bearer)?[_-]?token\s*[:=]\s*['"][^'"]{8,}['"]`)},
	{Name: "connection_string", Severity: 0.7, Regex: regexp.MustCompile(`(?i)(mongodb|mysql|postgresql|redis|elastic)://[^\s'"]{8,}`)},
	{Name: "database_url", Severity: 0.7, Regex: regexp.MustCompile(`(?i)database_url\s*[:=]\s*['"][^'"]{8,}['"]`)},
}

// FileCategory classifies file paths by the risk of their exposure.
// Keywords, when present, must also appear in the path for the category to
// apply; this keeps common config files from firing on name alone.
type FileCategory struct {
	Name      string
	Suspicion float64
	Patterns  []string
	Keywords  []string
}

var fileCategories = []FileCategory{
	{
		Name:      "keys",
		Suspicion: 0.9,
		Patterns:  []string{".pem", ".key", "id_rsa", "id_dsa", "id_ecdsa", ".p12", ".pfx", ".asc"},
	},
	{
		Name:      "credentials",
		Suspicion: 0.8,
		Patterns:  []string{".env", "credentials", "secrets.yml", "secrets.yaml", ".netrc", ".npmrc", "htpasswd"},
	},
	{
		Name:      "cloud",
		Suspicion: 0.7,
		Patterns:  []string{".aws/", "gcloud", ".azure/", "terraform.tfstate", "kubeconfig", ".kube/config"},
	},
	{
		Name:      "backup",
		Suspicion: 0.5,
		Patterns:  []string{".bak", ".backup", ".dump", ".sql", ".old"},
	},
	{
		Name:      "config",
		Suspicion: 0.4,
		Patterns:  []string{".conf", ".cfg", ".ini", "settings.py", "config.json", "config.yml", "config.yaml"},
		Keywords:  []string{"prod", "secret", "private", "internal"},
	},
	{
		Name:      "docker",
		Suspicion: 0.3,
		Patterns:  []string{"dockerfile", "docker-compose"},
		Keywords:  []string{"prod", "secret", "env"},
	},
}

// ClassifyFile returns the highest-suspicion category matching the path,
// or ("", 0) when none applies.
func ClassifyFile(path string) (string, float64) {
	lower := strings.ToLower(path)

	bestName := ""
	bestSuspicion := 0.0

	for _, cat := range fileCategories {
		if cat.Suspicion <= bestSuspicion {
			continue
		}

		if !matchesAny(lower, cat.Patterns) {
			continue
		}

		if len(cat.Keywords) > 0 && !matchesAny(lower, cat.Keywords) {
			continue
		}

		bestName = cat.Name
		bestSuspicion = cat.Suspicion
	}

	return bestName, bestSuspicion
}

// binaryExtensions marks files whose patches never carry scannable text.
var binaryExtensions = map[string]struct{}{
	".exe": {}, ".bin": {}, ".dll": {}, ".so": {}, ".dylib": {},
	".jar": {}, ".war": {}, ".zip": {}, ".tar": {}, ".gz": {},
	".bz2": {}, ".7z": {}, ".rar": {}, ".jpg": {}, ".jpeg": {},
	".png": {}, ".gif": {}, ".bmp": {}, ".mp3": {}, ".mp4": {},
	".avi": {}, ".pdf": {}, ".doc": {}, ".docx": {}, ".xls": {},
	".xlsx": {}, ".ppt": {}, ".pptx": {},
}

// IsBinaryFile reports whether the path has a known binary extension.
func IsBinaryFile(path string) bool {
	lower := strings.ToLower(path)

	idx := strings.LastIndexByte(lower, '.')
	if idx < 0 {
		return false
	}

	_, ok := binaryExtensions[lower[idx:]]

	return ok
}

func matchesAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}

	return false
}

// previewLen bounds how much of a matched secret is reported.
const previewLen = 20

// SecretHit is one pattern match, with a truncated preview only.
type SecretHit struct {
	Pattern   string  `json:"pattern"`
	Severity  float64 `json:"severity"`
	Preview   string  `json:"preview"`
	Start     int     `json:"start"`
	End       int     `json:"end"`
	Location  string  `json:"location"`
	CommitSHA string  `json:"commit_sha,omitempty"`
}

// ScanText runs every secret pattern over the text and reports hits tagged
// with the given location (e.g. "commit_message", a file path).
func ScanText(text, location, sha string) []SecretHit {
	if text == "" {
		return nil
	}

	var hits []SecretHit

	for _, p := range secretPatterns {
		for _, span := range p.Regex.FindAllStringIndex(text, -1) {
			match := text[span[0]:span[1]]
			if len(match) > previewLen {
				match = match[:previewLen] + "..."
			}

			hits = append(hits, SecretHit{
				Pattern:  p.Name,
				Severity: p.Severity,
				Preview:  match,
				Start:    span[0],
				End:      span[1],
				Location: location,
				CommitSHA: shortSHA(sha),
			})
		}
	}

	return hits
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}

	return sha
}
