package resources

import (
	"os"

	"github.com/edsrzf/mmap-go"
)

func readMmap(file *os.File) (*[]byte, error) {
	stat, statErr := file.Stat()
	if statErr != nil {
		return nil, statErr
	}
	// Zero-length files cannot be mapped.
	if stat.Size() == 0 {
		empty := make([]byte, 0)
		return &empty, nil
	}
	fileMmap, mmapErr := mmap.Map(file, mmap.RDONLY, 0)
	mmapBytes := (*[]byte)(&fileMmap)
	return mmapBytes, mmapErr
}
