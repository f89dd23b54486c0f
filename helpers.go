package quorumvote

import (
	"io/fs"
	"os"
)

// createDirectoryIfNotExist creates d and its parents when missing
func createDirectoryIfNotExist(d string, perm fs.FileMode) error {
	if _, err := os.Stat(d); os.IsNotExist(err) {
		if err := os.MkdirAll(d, perm); err != nil {
			return err
		}
		return nil
	}
	return nil
}
