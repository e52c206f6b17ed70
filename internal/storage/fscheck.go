package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// networkFilesystems are mounts where SQLite locking is unreliable and
// scanner I/O over a workspace is slow.
var networkFilesystems = map[string]struct{}{
	"9p":     {},
	"afpfs":  {},
	"afs":    {},
	"ceph":   {},
	"cifs":   {},
	"nfs":    {},
	"smbfs":  {},
	"smb2":   {},
	"webdav": {},
}

// Locality describes the filesystem a path lives on, or would live on once
// created.
type Locality struct {
	// Inspected is the nearest existing ancestor that was examined.
	Inspected string
	FSType    string
	Network   bool
}

// detector is swapped in tests.
var detector = statFSType

// CheckLocality reports which filesystem path resolves to. Paths that do
// not exist yet are judged by their nearest existing parent.
func CheckLocality(path string) (Locality, error) {
	return checkLocalityWith(path, detector)
}

func checkLocalityWith(path string, detect func(string) (string, error)) (Locality, error) {
	if path == "" {
		return Locality{}, errors.New("path is empty")
	}

	inspectPath, err := nearestExistingPath(path)
	if err != nil {
		return Locality{}, fmt.Errorf("resolve %q: %w", path, err)
	}

	fsType, err := detect(inspectPath)
	if err != nil {
		return Locality{Inspected: inspectPath}, fmt.Errorf("detect filesystem for %q: %w", inspectPath, err)
	}
	return Locality{Inspected: inspectPath, FSType: fsType, Network: isNetworkFilesystem(fsType)}, nil
}

// validateSQLiteFilesystem refuses a job history database on a network
// share, where SQLite locking is unreliable.
func validateSQLiteFilesystem(path string) error {
	return validateSQLiteFilesystemWith(path, detector)
}

func validateSQLiteFilesystemWith(path string, detect func(string) (string, error)) error {
	if path == "" {
		return errors.New("sqlite path is empty")
	}
	loc, err := checkLocalityWith(path, detect)
	if err != nil {
		return err
	}
	if loc.Network {
		return fmt.Errorf(
			"job history database %q is on network filesystem %q; SQLite requires a local filesystem for reliable locking. Set state.path (or SONARGATE_STATE_PATH) to a local disk",
			path,
			loc.FSType,
		)
	}
	return nil
}

func nearestExistingPath(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}

	candidate := absPath
	for {
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat %q: %w", candidate, err)
		}

		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing parent for %q", absPath)
		}
		candidate = parent
	}
}

func isNetworkFilesystem(fsType string) bool {
	_, found := networkFilesystems[strings.TrimSpace(strings.ToLower(fsType))]
	return found
}
