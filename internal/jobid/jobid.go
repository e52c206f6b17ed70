// Package jobid mints the token that names one analysis job. The token is
// also the SonarQube project key the scanner reports under.
package jobid

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const prefix = "job_"

var tokenPattern = regexp.MustCompile(`^job_[0-9a-f]{32}$`)

// New returns a fresh token backed by a random (version 4) UUID.
func New() string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Valid reports whether token has the shape produced by New.
func Valid(token string) bool {
	return tokenPattern.MatchString(token)
}
