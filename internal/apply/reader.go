package apply

import (
	"os"

	"github.com/forgeware/codeforge/internal/fsiface"
	"github.com/forgeware/codeforge/internal/pathsafety"
)

// BaseReader adapts an fsiface.FS + optional BufferResolver into a
// snapshot.FileReader, so the rollback snapshot store captures exactly
// what the apply engine's own base-capture step would read: an open
// editor buffer takes precedence over the file's on-disk content.
type BaseReader struct {
	Root string
	FS fsiface.FS
	Buffers fsiface.BufferResolver
}

func (r BaseReader) ReadBase(uri string) (content string, isDirty bool, existed bool, err error) {
	if r.Buffers != nil {
		if tm, berr := r.Buffers.ResolveModel(uri); berr == nil && !tm.IsDisposed() {
			return tm.GetValue(), true, true, nil
		}
	}

	res, rerr := pathsafety.ResolveURI(r.Root, uri)
	if rerr != nil {
		return "", false, false, rerr
	}

	data, rerr := r.FS.ReadFile(res.AbsPath)
	if rerr != nil {
		if os.IsNotExist(rerr) {
			return "", false, false, nil
		}
		return "", false, false, rerr
	}
	return string(data), false, true, nil
}
