package pathsafety

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveURI_RelativePath(t *testing.T) {
	root := filepath.Join("/", "tmp", "myproject")
	res, err := ResolveURI(root, "src/a.go")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "src", "a.go"), res.AbsPath)
	assert.Equal(t, "src/a.go", res.RelPath)
}

func TestResolveURI_AbsolutePathInsideWorkspace(t *testing.T) {
	root := filepath.Join("/", "tmp", "myproject")
	abs := filepath.Join(root, "src", "a.go")
	res, err := ResolveURI(root, abs)
	require.NoError(t, err)
	assert.Equal(t, abs, res.AbsPath)
	assert.Equal(t, "src/a.go", res.RelPath)
}

func TestResolveURI_FileScheme(t *testing.T) {
	root := filepath.Join("/", "tmp", "myproject")
	res, err := ResolveURI(root, "file://"+filepath.Join(root, "a.go"))
	require.NoError(t, err)
	assert.Equal(t, "a.go", res.RelPath)
}

func TestResolveURI_WorkspaceFolderPrefixMistake(t *testing.T) {
	root := filepath.Join("/", "tmp", "myproject")
	res, err := ResolveURI(root, "myproject/src/a.go")
	require.NoError(t, err)
	assert.Equal(t, "src/a.go", res.RelPath)
}

func TestResolveURI_RejectsEscape(t *testing.T) {
	root := filepath.Join("/", "tmp", "myproject")
	_, err := ResolveURI(root, "../outside.go")
	assert.Error(t, err)
}

func TestResolveURI_RejectsAbsoluteOutsideWorkspace(t *testing.T) {
	root := filepath.Join("/", "tmp", "myproject")
	_, err := ResolveURI(root, filepath.Join("/", "tmp", "other", "a.go"))
	assert.Error(t, err)
}

func TestResolveURI_EmptyInputs(t *testing.T) {
	_, err := ResolveURI("", "a.go")
	assert.Error(t, err)

	_, err = ResolveURI("/tmp/myproject", "")
	assert.Error(t, err)
}

func TestValidatePositiveInt(t *testing.T) {
	assert.NoError(t, ValidatePositiveInt("line", 1))
	assert.Error(t, ValidatePositiveInt("line", 0))
	assert.Error(t, ValidatePositiveInt("line", -1))
}

func TestValidatePageNumber(t *testing.T) {
	p, err := ValidatePageNumber(0, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, p)

	p, err = ValidatePageNumber(5, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 5, p)

	_, err = ValidatePageNumber(11, 1, 10)
	assert.Error(t, err)

	_, err = ValidatePageNumber(-1, 1, 10)
	assert.Error(t, err)
}
