//go:build !unix

package election

import (
	"errors"
	"os"
)

var errWouldBlock = errors.New("would block")

func lockExclusive(*os.File) error {
	return errors.ErrUnsupported
}
