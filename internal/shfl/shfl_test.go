package shfl

import "testing"

func TestObjInfoTypeBits(t *testing.T) {
	mk := func(mode uint32) ObjInfo { return ObjInfo{Mode: mode} }

	if !mk(TypeDir | 0o755).IsDir() {
		t.Error("directory bits not recognized")
	}
	if !mk(TypeSymlink | 0o777).IsSymlink() {
		t.Error("symlink bits not recognized")
	}
	if mk(TypeFile|0o644).IsDir() || mk(TypeFile|0o644).IsSymlink() {
		t.Error("regular file misclassified")
	}
}
