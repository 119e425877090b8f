package blockstream

import "fmt"

// ValidateReadWrite checks common preconditions for Stream.ReadAt/WriteAt.
func ValidateReadWrite(buf []byte, offset int64) error {
	if buf == nil {
		return fmt.Errorf("blockstream: buffer cannot be nil")
	}
	if offset < 0 {
		return fmt.Errorf("blockstream: negative offset %d not allowed", offset)
	}
	return nil
}
