package canon

import (
	"crypto/sha256"
	"fmt"

	"golang.org/x/exp/mmap"
)

// digestViaMmap hashes a large file through a read-only memory mapping,
// grounded on distri's internal/install use of golang.org/x/exp/mmap for
// reading large package trees without a full-file heap allocation.
func digestViaMmap(path string, size int64) (string, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return "", err
	}
	defer r.Close()

	h := sha256.New()
	buf := make([]byte, 1<<20)
	var off int64
	for off < size {
		n, err := r.ReadAt(buf, off)
		if n > 0 {
			h.Write(buf[:n])
			off += int64(n)
		}
		if err != nil {
			if off >= size {
				break
			}
			return "", err
		}
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
