package safefs

import "github.com/golang/glog"

// CloseAll closes every open handle in ascending ID order, per spec.md
// §4.D's ordered-teardown rule.
func (fs *FS) CloseAll() {
	for _, id := range fs.handles.allOpenIDsAscending() {
		if err := fs.Close(id); err != nil {
			glog.Warningf("safefs: error closing handle %d during shutdown: %v", id, err)
		}
	}
}
