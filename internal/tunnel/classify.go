package tunnel

import (
	"regexp"
	"strings"
)

// LineClass is the result of classifying one line of tunnel subprocess output.
type LineClass int

const (
	// ClassUnrecognized lines carry no signal and are skipped.
	ClassUnrecognized LineClass = iota
	// ClassReady lines announce the assigned public URL.
	ClassReady
	// ClassRateLimited lines carry the provider's 429 signature.
	ClassRateLimited
	// ClassFailure lines carry any other recognizable error.
	ClassFailure
)

func (c LineClass) String() string {
	switch c {
	case ClassReady:
		return "ready"
	case ClassRateLimited:
		return "rate-limited"
	case ClassFailure:
		return "failure"
	default:
		return "unrecognized"
	}
}

// Classification is the decoded meaning of a single output line.
type Classification struct {
	Class LineClass
	// URL is set for ClassReady.
	URL string
	// Detail is the trimmed source line for ClassRateLimited and ClassFailure.
	Detail string
}

// quickTunnelURLPattern matches the URL announcement inside cloudflared's
// pipe-bordered banner output.
var quickTunnelURLPattern = regexp.MustCompile(`https://[a-zA-Z0-9-]+\.trycloudflare\.com`)

// ClassifyLine decodes one line of cloudflared output. All the stringly-typed
// matching against the subprocess lives here so the rules are testable in one
// place.
func ClassifyLine(line string) Classification {
	if url := quickTunnelURLPattern.FindString(line); url != "" {
		return Classification{Class: ClassReady, URL: url}
	}

	if strings.Contains(line, "429 Too Many Requests") || strings.Contains(line, "Too Many Requests") {
		return Classification{Class: ClassRateLimited, Detail: strings.TrimSpace(line)}
	}

	if strings.Contains(line, "ERR") && (strings.Contains(line, "error code") || strings.Contains(line, "failed to")) {
		return Classification{Class: ClassFailure, Detail: strings.TrimSpace(line)}
	}

	return Classification{Class: ClassUnrecognized}
}
