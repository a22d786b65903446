package safefs

import "syscall"

// statvfsLocal reports filesystem capacity via statfs(2), the same
// syscall the teacher's statFS uses for the kernel-callback StatFS op.
func statvfsLocal(local string) (*StatVFS, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(local, &st); err != nil {
		return nil, translateOSError(err, "statvfs", local)
	}
	return &StatVFS{
		BlockSize:    uint64(st.Bsize),
		FragmentSize: uint64(st.Bsize),
		Blocks:       st.Blocks,
		BlocksFree:   st.Bfree,
		BlocksAvail:  st.Bavail,
		Files:        st.Files,
		FilesFree:    st.Ffree,
		FSID:         uint64(uint32(st.Fsid.X__val[0])),
		NameMax:      uint64(st.Namelen),
	}, nil
}
