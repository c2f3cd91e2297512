package installer

import "golang.org/x/sys/unix"

// ENOATTR is what xattr removal returns for files that never carried the
// attribute.
const errNoAttr = unix.ENOATTR
