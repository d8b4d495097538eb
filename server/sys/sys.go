package sys

import (
	"io/fs"
	"path/filepath"

	"github.com/justdownloadit/justdownloadit/server/config"
	"golang.org/x/sys/unix"
)

// FreeSpace reports the available bytes on the filesystem holding the
// download directory.
func FreeSpace() (uint64, error) {
	var stat unix.Statfs_t

	if err := unix.Statfs(config.Instance().Paths.DownloadPath, &stat); err != nil {
		return 0, err
	}

	return stat.Bavail * uint64(stat.Bsize), nil
}

// DirectoryTree returns a flattened listing of the download directory.
func DirectoryTree() (*[]string, error) {
	var (
		files = []string{}
		root  = config.Instance().Paths.DownloadPath
	)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})

	if err != nil {
		return nil, err
	}

	return &files, nil
}
