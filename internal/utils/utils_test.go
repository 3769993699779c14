package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLanguage(t *testing.T) {
	testCases := []struct {
		path string
		want string
	}{
		{"app/main.py", LangPython},
		{"Service.JAVA", LangJava},
		{"pom.xml", LangXML},
		{"build.gradle", ""},
		{"README", ""},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, Language(tc.path), tc.path)
		assert.Equal(t, tc.want != "", IsSupportedFile(tc.path), tc.path)
	}
}

func TestResolveInDir(t *testing.T) {
	root := t.TempDir()

	got, err := ResolveInDir(root, "pkg/mod.py")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "pkg", "mod.py"), got)

	got, err = ResolveInDir(root, filepath.Join(root, "a.py"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "a.py"), got)

	_, err = ResolveInDir(root, "../secret.py")
	assert.Error(t, err)

	_, err = ResolveInDir(root, "/etc/passwd.xml")
	assert.Error(t, err)
}

func TestResolveInDir_Symlinks(t *testing.T) {
	root := t.TempDir()
	outside := writeFile(t, t.TempDir(), "secret.py", "TOKEN = 1\n")
	inside := writeFile(t, root, "real.py", "x = 1\n")
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "leak.py")))
	require.NoError(t, os.Symlink(inside, filepath.Join(root, "alias.py")))
	require.NoError(t, os.Symlink(filepath.Dir(outside), filepath.Join(root, "ext")))

	_, err := ResolveInDir(root, "leak.py")
	assert.Error(t, err)
	_, err = ResolveInDir(root, "ext/secret.py")
	assert.Error(t, err)

	got, err := ResolveInDir(root, "alias.py")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "alias.py"), got)

	got, err = ResolveInDir(root, "not-yet.py")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "not-yet.py"), got)
}

func TestSaveUpload(t *testing.T) {
	path, cleanup, err := SaveUpload("project/pom.xml", strings.NewReader("<project/>"))
	require.NoError(t, err)
	assert.Equal(t, "pom.xml", filepath.Base(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "<project/>", string(data))

	cleanup()
	_, err = os.Stat(filepath.Dir(path))
	assert.True(t, os.IsNotExist(err))

	path, cleanup, err = SaveUpload(`C:\work\requirements.txt`, strings.NewReader(""))
	require.NoError(t, err)
	defer cleanup()
	assert.Equal(t, "requirements.txt", filepath.Base(path))

	_, _, err = SaveUpload("..", strings.NewReader(""))
	assert.Error(t, err)
}

func TestFileExists(t *testing.T) {
	root := t.TempDir()
	path := writeFile(t, root, "a.py", "x = 1\n")

	assert.True(t, FileExists(path))
	assert.False(t, FileExists(root), "directories are not files")
	assert.False(t, FileExists(filepath.Join(root, "missing.py")))
}

func TestUniqueStrings(t *testing.T) {
	assert.Equal(t, []string{"b", "a", "c"}, UniqueStrings([]string{"b", "a", "b", "c", "a"}))
	assert.Nil(t, UniqueStrings(nil))
}

func TestListProjectFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.py", "")
	writeFile(t, root, "src/App.java", "")
	writeFile(t, root, "pom.xml", "")
	writeFile(t, root, "notes.txt", "")
	writeFile(t, root, "venv/lib/site.py", "")
	writeFile(t, root, "__pycache__/main.py", "")
	writeFile(t, root, "build/generated.py", "")
	writeFile(t, root, "scratch.py", "")
	writeFile(t, root, ".gitignore", "# local files\nbuild/\nscratch.py\n")

	files, err := ListProjectFiles(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"main.py", "pom.xml", "src/App.java"}, files)
}

func TestIgnoreRules(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".gitignore", "*.log\ngen/\n")
	rules := LoadIgnoreRules(root)

	assert.True(t, rules.Ignored(filepath.Join(root, ".git"), true))
	assert.True(t, rules.Ignored(filepath.Join(root, "node_modules", "x.py"), false))
	assert.True(t, rules.Ignored("gen", true))
	assert.True(t, rules.Ignored("debug.log", false))
	assert.False(t, rules.Ignored("env", false), "a file named env is not a directory")
	assert.False(t, rules.Ignored(filepath.Join(root, "src", "app.py"), false))
	assert.False(t, rules.Ignored(root, true))
}

func TestGatherFiles(t *testing.T) {
	root := t.TempDir()
	a := writeFile(t, root, "a.py", "")
	b := writeFile(t, root, "pkg/B.java", "")
	writeFile(t, root, "pkg/c.xml", "")
	writeFile(t, root, ".venv/d.py", "")

	files, err := GatherFiles(root, ".py", ".java")
	require.NoError(t, err)
	assert.Equal(t, []string{a, b}, files)

	files, err = GatherFiles(a, ".py")
	require.NoError(t, err)
	assert.Equal(t, []string{a}, files)

	files, err = GatherFiles(a, ".java")
	require.NoError(t, err)
	assert.Empty(t, files)

	_, err = GatherFiles(filepath.Join(root, "nope"), ".py")
	assert.Error(t, err)
}
