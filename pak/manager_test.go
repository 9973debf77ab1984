package pak

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildTestZip writes a well-formed ZIP to disk, using archive/zip purely as
// test-fixture tooling (see DESIGN.md); pakvfs never imports archive/zip
// outside _test.go files.
func buildTestZip(t *testing.T, dir, name string, files map[string]string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for fname, content := range files {
		fw, err := w.Create(fname)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestMountAndFOpenReadsPakEntry(t *testing.T) {
	dir := t.TempDir()
	pak := buildTestZip(t, dir, "data.pak", map[string]string{
		"scripts/main.lua": "print('hi')",
	})

	m := New()
	defer m.Close()
	require.NoError(t, m.Mount("", pak, MountNone))

	h, err := m.FOpen("scripts/main.lua", "r", FlagNone)
	require.NoError(t, err)
	require.True(t, m.IsInPak(h))

	buf := make([]byte, 64)
	n, err := m.FRead(h, buf)
	require.NoError(t, err)
	require.Equal(t, "print('hi')", string(buf[:n]))

	eof, err := m.FEof(h)
	require.NoError(t, err)
	require.True(t, eof)

	require.NoError(t, m.FClose(h))
}

func TestFOpenMissingReturnsNotFound(t *testing.T) {
	dir := t.TempDir()
	pak := buildTestZip(t, dir, "data.pak", map[string]string{"a.txt": "x"})

	m := New()
	defer m.Close()
	require.NoError(t, m.Mount("", pak, MountNone))

	_, err := m.FOpen("missing.txt", "r", FlagNone)
	require.Error(t, err)
}

func TestPriorityFileFirstPrefersDisk(t *testing.T) {
	dir := t.TempDir()
	pak := buildTestZip(t, dir, "data.pak", map[string]string{"shared.txt": "from-pak"})

	dataRoot := filepath.Join(dir, "root")
	require.NoError(t, os.MkdirAll(dataRoot, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dataRoot, "shared.txt"), []byte("from-disk"), 0o644))

	m := New(WithDataRoot(dataRoot), WithPriority(FileFirst))
	defer m.Close()
	require.NoError(t, m.Mount("", pak, MountNone))

	h, err := m.FOpen("shared.txt", "r", FlagNone)
	require.NoError(t, err)
	require.False(t, m.IsInPak(h))

	buf := make([]byte, 32)
	n, err := m.FRead(h, buf)
	require.NoError(t, err)
	require.Equal(t, "from-disk", string(buf[:n]))
}

func TestPriorityPakFirstPrefersPak(t *testing.T) {
	dir := t.TempDir()
	pak := buildTestZip(t, dir, "data.pak", map[string]string{"shared.txt": "from-pak"})

	dataRoot := filepath.Join(dir, "root")
	require.NoError(t, os.MkdirAll(dataRoot, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dataRoot, "shared.txt"), []byte("from-disk"), 0o644))

	m := New(WithDataRoot(dataRoot), WithPriority(PakFirst))
	defer m.Close()
	require.NoError(t, m.Mount("", pak, MountNone))

	h, err := m.FOpen("shared.txt", "r", FlagNone)
	require.NoError(t, err)
	require.True(t, m.IsInPak(h))
}

func TestLastMountedWins(t *testing.T) {
	dir := t.TempDir()
	base := buildTestZip(t, dir, "base.pak", map[string]string{"cfg.json": "base"})
	patch := buildTestZip(t, dir, "patch.pak", map[string]string{"cfg.json": "patch"})

	m := New()
	defer m.Close()
	require.NoError(t, m.Mount("", base, MountNone))
	require.NoError(t, m.Mount("", patch, MountNone))

	h, err := m.FOpen("cfg.json", "r", FlagNone)
	require.NoError(t, err)
	data, err := m.GetCachedFileData(h)
	require.NoError(t, err)
	require.Equal(t, "patch", string(data))
}

func TestBindRootIsolation(t *testing.T) {
	dir := t.TempDir()
	pak := buildTestZip(t, dir, "ui.pak", map[string]string{"hud.png": "bytes"})

	m := New()
	defer m.Close()
	require.NoError(t, m.Mount("ui", pak, MountNone))

	_, err := m.FOpen("hud.png", "r", FlagNone)
	require.Error(t, err, "unbound path must not see a bind-rooted mount")

	h, err := m.FOpen("ui/hud.png", "r", FlagNone)
	require.NoError(t, err)
	require.True(t, m.IsInPak(h))
}

func TestMountDisablePakExcludesFromResolution(t *testing.T) {
	dir := t.TempDir()
	pak := buildTestZip(t, dir, "data.pak", map[string]string{"a.txt": "x"})

	m := New()
	defer m.Close()
	require.NoError(t, m.Mount("", pak, MountNone))
	require.NoError(t, m.SetPackAccessible(pak, false))

	_, err := m.FOpen("a.txt", "r", FlagNone)
	require.Error(t, err)

	require.NoError(t, m.SetPackAccessible(pak, true))
	_, err = m.FOpen("a.txt", "r", FlagNone)
	require.NoError(t, err)
}

func TestWriteModeOpensLooseFileDirectly(t *testing.T) {
	dir := t.TempDir()
	m := New(WithDataRoot(dir))
	defer m.Close()

	h, err := m.FOpen("out.txt", "w", FlagNone)
	require.NoError(t, err)
	n, err := m.FWrite(h, []byte("saved"))
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.NoError(t, m.FClose(h))

	got, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	require.NoError(t, err)
	require.Equal(t, "saved", string(got))
}

func TestAccessDisabledBlocksOpen(t *testing.T) {
	dir := t.TempDir()
	pak := buildTestZip(t, dir, "data.pak", map[string]string{"a.txt": "x"})

	m := New()
	defer m.Close()
	require.NoError(t, m.Mount("", pak, MountNone))

	m.SetAccessDisabled("default", true)
	_, err := m.FOpen("a.txt", "r", FlagNone)
	require.Error(t, err)

	m.SetAccessDisabled("default", false)
	_, err = m.FOpen("a.txt", "r", FlagNone)
	require.NoError(t, err)
}

func TestModsAddRemove(t *testing.T) {
	m := New()
	defer m.Close()
	m.AddMod("/mods/a")
	m.AddMod("/mods/b")
	require.Equal(t, []string{"/mods/a", "/mods/b"}, m.Mods())
	require.True(t, m.RemoveMod("/mods/a"))
	require.Equal(t, []string{"/mods/b"}, m.Mods())
}

func TestAliasSetGet(t *testing.T) {
	m := New()
	defer m.Close()
	m.SetAlias("@data@", "/game/data")
	target, ok := m.GetAlias("@data@")
	require.True(t, ok)
	require.Equal(t, "/game/data", target)

	_, ok = m.GetAlias("@missing@")
	require.False(t, ok)
}

func TestParseAliasesFromCommandLine(t *testing.T) {
	m := New()
	defer m.Close()
	m.ParseAliasesFromCommandLine([]string{"-unrelated", "-alias=@mods@=/game/mods", "-alias=broken"})

	target, ok := m.GetAlias("@mods@")
	require.True(t, ok)
	require.Equal(t, "/game/mods", target)
}

func TestAdjustFileNameRejectsPathEscape(t *testing.T) {
	m := New()
	defer m.Close()
	_, err := m.AdjustFileName("../../etc/passwd", FlagNone)
	require.Error(t, err)
}

func TestFindFirstMergesMountAndDisk(t *testing.T) {
	dir := t.TempDir()
	pak := buildTestZip(t, dir, "data.pak", map[string]string{
		"textures/wall.dds": "bytes",
		"textures/sky.dds":  "bytes",
		"readme.txt":        "bytes",
	})

	dataRoot := filepath.Join(dir, "root")
	require.NoError(t, os.MkdirAll(filepath.Join(dataRoot, "textures"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dataRoot, "readme.txt"), []byte("disk copy"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dataRoot, "local.cfg"), []byte("x"), 0o644))

	m := New(WithDataRoot(dataRoot))
	defer m.Close()
	require.NoError(t, m.Mount("", pak, MountNone))

	h, first, err := m.FindFirst("", FlagNone)
	require.NoError(t, err)
	require.NotNil(t, first)

	names := map[string]bool{first.Name: first.IsDir}
	for {
		e, err := m.FindNext(h)
		require.NoError(t, err)
		if e == nil {
			break
		}
		names[e.Name] = e.IsDir
	}
	require.NoError(t, m.FindClose(h))

	require.True(t, names["textures"], "textures dir should be merged in from the mount")
	require.True(t, names["readme.txt"] == false)
	require.True(t, names["local.cfg"] == false)
}

func TestGetCachedFileDataSharesBuffer(t *testing.T) {
	dir := t.TempDir()
	pak := buildTestZip(t, dir, "data.pak", map[string]string{"a.txt": "contents"})

	m := New()
	defer m.Close()
	require.NoError(t, m.Mount("", pak, MountNone))

	h, err := m.FOpen("a.txt", "r", FlagNone)
	require.NoError(t, err)

	first, err := m.GetCachedFileData(h)
	require.NoError(t, err)
	second, err := m.GetCachedFileData(h)
	require.NoError(t, err)
	require.Equal(t, "contents", string(first))
	require.Equal(t, first, second)
}

func TestSeekTellUngetc(t *testing.T) {
	dir := t.TempDir()
	pak := buildTestZip(t, dir, "data.pak", map[string]string{"a.txt": "abcdef"})

	m := New()
	defer m.Close()
	require.NoError(t, m.Mount("", pak, MountNone))

	h, err := m.FOpen("a.txt", "r", FlagNone)
	require.NoError(t, err)

	pos, err := m.FSeek(h, 3, 0)
	require.NoError(t, err)
	require.Equal(t, int64(3), pos)

	c, err := m.FGetc(h)
	require.NoError(t, err)
	require.Equal(t, int('d'), c)

	require.NoError(t, m.FUngetc(h, byte('d')))
	tell, err := m.FTell(h)
	require.NoError(t, err)
	require.Equal(t, int64(3), tell)

	c, err = m.FGetc(h)
	require.NoError(t, err)
	require.Equal(t, int('d'), c)
}
