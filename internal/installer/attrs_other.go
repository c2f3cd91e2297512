//go:build !darwin && !windows

package installer

import "golang.org/x/sys/unix"

// ENODATA is what xattr removal returns on Linux for files that never
// carried the attribute.
const errNoAttr = unix.ENODATA
