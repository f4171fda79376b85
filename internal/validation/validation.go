// Package validation holds the two boundary checks config.Validate
// needs that aren't already owned by a domain package's own validator
// (firmware.ValidateChunkSize covers chunk size, peertable.New covers
// peer address syntax/duplication): the firmware image path and the
// optional metrics listen address. Both return a sentinel error
// wrapped with %w so callers can errors.Is against it.
package validation

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
)

var (
	// ErrInvalidPath means the image path string itself is unusable
	// (empty), independent of whether anything exists there.
	ErrInvalidPath = errors.New("invalid file path")
	// ErrPathNotExists means the path is well-formed but os.Stat failed.
	ErrPathNotExists = errors.New("path does not exist")
	// ErrInvalidAddr means the metrics listen address failed to parse
	// as a TCP host:port.
	ErrInvalidAddr = errors.New("invalid listen address")
)

// ValidateFilePath rejects an empty path and, if mustExist, one that
// doesn't resolve to an existing file. config.Validate calls this with
// mustExist true for Config.ImagePath: the upload can't start without
// an image already on disk.
func ValidateFilePath(p string, mustExist bool) error {
	if p == "" {
		return ErrInvalidPath
	}
	p = filepath.Clean(p)
	if mustExist {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("%w: %v", ErrPathNotExists, err)
		}
	}
	return nil
}

// ValidateAddr validates a host:port string suitable for an HTTP
// listener. config.Validate calls this for Config.MetricsAddr, which
// is optional, so an empty string is checked by the caller rather than
// treated as an error here.
func ValidateAddr(addr string) error {
	if _, err := net.ResolveTCPAddr("tcp", addr); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddr, err)
	}
	return nil
}
