package fsengine

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sealfs/sealfs/internal/aead"
	"github.com/sealfs/sealfs/internal/attrstore"
	"github.com/sealfs/sealfs/internal/sealerr"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()
	eng, err := Init(dir, []byte("correct horse battery staple"), aead.ChaCha20, Config{ChunkSize: 8})
	require.NoError(t, err)
	t.Cleanup(eng.Close)
	return eng
}

// S1: a file created, written, and read back yields identical plaintext.
func TestScenarioCreateWriteReadRoundTrips(t *testing.T) {
	eng := newTestEngine(t)

	h, attr, err := eng.CreateNod(RootIno, "greeting.txt", AttrTemplate{Perm: 0o644}, true, true)
	require.NoError(t, err)
	assert.EqualValues(t, 0, attr.Size)

	payload := []byte("hello, sealed world")
	require.NoError(t, eng.WriteAll(attr.Ino, 0, payload, h))

	buf := make([]byte, len(payload))
	n, err := eng.Read(attr.Ino, 0, buf, h)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, payload, buf)

	require.NoError(t, eng.Release(h))
}

// S2: lookups resolve the attributes just written, and Readdir surfaces
// the new entry alongside the synthesized "." and "..".
func TestScenarioLookupAndReaddirSeeCreatedEntries(t *testing.T) {
	eng := newTestEngine(t)

	_, attr, err := eng.CreateNod(RootIno, "a.txt", AttrTemplate{Perm: 0o644}, true, true)
	require.NoError(t, err)

	looked, err := eng.Lookup(RootIno, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, attr.Ino, looked.Ino)
	assert.Equal(t, attrstore.RegularFile, looked.Kind)

	entries, err := eng.Readdir(RootIno, 0)
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, e := range entries {
		names[e.Name] = true
	}
	assert.True(t, names["."])
	assert.True(t, names[".."])
	assert.True(t, names["a.txt"])
}

// S3: writes past the current end of file zero-fill the gap.
func TestScenarioWritePastEOFZeroFillsGap(t *testing.T) {
	eng := newTestEngine(t)

	h, attr, err := eng.CreateNod(RootIno, "sparse.bin", AttrTemplate{Perm: 0o644}, true, true)
	require.NoError(t, err)

	require.NoError(t, eng.WriteAll(attr.Ino, 20, []byte("tail"), h))

	buf := make([]byte, 24)
	n, err := eng.Read(attr.Ino, 0, buf, h)
	require.NoError(t, err)
	assert.Equal(t, 24, n)
	assert.Equal(t, make([]byte, 20), buf[:20])
	assert.Equal(t, []byte("tail"), buf[20:])
}

// S4: a directory may only be removed when empty.
func TestScenarioRmdirRefusesNonEmptyDirectory(t *testing.T) {
	eng := newTestEngine(t)

	_, err := eng.Mkdir(RootIno, "sub", 0o755, 0, 0)
	require.NoError(t, err)
	subAttr, err := eng.Lookup(RootIno, "sub")
	require.NoError(t, err)

	_, _, err = eng.CreateNod(subAttr.Ino, "child.txt", AttrTemplate{Perm: 0o644}, true, true)
	require.NoError(t, err)

	err = eng.Rmdir(RootIno, "sub")
	require.Error(t, err)
	assert.True(t, sealerr.Is(err, sealerr.NotEmpty))

	require.NoError(t, eng.Unlink(subAttr.Ino, "child.txt"))
	require.NoError(t, eng.Rmdir(RootIno, "sub"))
}

// S5: rename replaces an existing destination file and the old name no
// longer resolves.
func TestScenarioRenameReplacesDestination(t *testing.T) {
	eng := newTestEngine(t)

	_, srcAttr, err := eng.CreateNod(RootIno, "src.txt", AttrTemplate{Perm: 0o644}, true, true)
	require.NoError(t, err)
	_, _, err = eng.CreateNod(RootIno, "dst.txt", AttrTemplate{Perm: 0o644}, true, true)
	require.NoError(t, err)

	require.NoError(t, eng.Rename(RootIno, "src.txt", RootIno, "dst.txt"))

	_, err = eng.Lookup(RootIno, "src.txt")
	require.Error(t, err)
	assert.True(t, sealerr.Is(err, sealerr.NotFound))

	dst, err := eng.Lookup(RootIno, "dst.txt")
	require.NoError(t, err)
	assert.Equal(t, srcAttr.Ino, dst.Ino)
}

// S6: a tampered content chunk surfaces as a Corrupted error, never a
// silent decrypt of wrong bytes.
func TestScenarioTamperedChunkIsReportedCorrupted(t *testing.T) {
	eng := newTestEngine(t)

	h, attr, err := eng.CreateNod(RootIno, "secret.bin", AttrTemplate{Perm: 0o600}, true, true)
	require.NoError(t, err)
	require.NoError(t, eng.WriteAll(attr.Ino, 0, []byte("top secret contents"), h))
	require.NoError(t, eng.Release(h))

	path := filepath.Join(eng.dataDir, "contents", strconv.FormatUint(attr.Ino, 10))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	h2, err := eng.Open(attr.Ino, true, false)
	require.NoError(t, err)
	buf := make([]byte, 19)
	_, err = eng.Read(attr.Ino, 0, buf, h2)
	require.Error(t, err)
	assert.True(t, sealerr.Is(err, sealerr.Corrupted))
}

// Invariant: unlinking an inode with an open handle defers the physical
// removal until the handle is released (delete-on-last-close).
func TestInvariantDeleteOnLastClose(t *testing.T) {
	eng := newTestEngine(t)

	h, attr, err := eng.CreateNod(RootIno, "ephemeral.txt", AttrTemplate{Perm: 0o644}, true, true)
	require.NoError(t, err)
	require.NoError(t, eng.WriteAll(attr.Ino, 0, []byte("data"), h))

	require.NoError(t, eng.Unlink(RootIno, "ephemeral.txt"))

	// The inode's attributes are still readable while the handle is open.
	buf := make([]byte, 4)
	n, err := eng.Read(attr.Ino, 0, buf, h)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	require.NoError(t, eng.Release(h))

	_, err = eng.readAttr("probe", attr.Ino)
	require.Error(t, err)
	assert.True(t, sealerr.Is(err, sealerr.NotFound))
}

// Invariant: re-opening a data directory with the wrong password fails
// without revealing any partial state about the correct one.
func TestInvariantOpenRejectsWrongPassword(t *testing.T) {
	dir := t.TempDir()
	eng, err := Init(dir, []byte("right password"), aead.AES256GCM, Config{})
	require.NoError(t, err)
	eng.Close()

	_, err = Open(dir, []byte("wrong password"), aead.AES256GCM, Config{})
	require.Error(t, err)
	assert.True(t, sealerr.Is(err, sealerr.InvalidPassword))
}

// Invariant: creating an entry that already exists under the same parent
// fails with AlreadyExists and does not disturb the existing entry.
func TestInvariantCreateNodRefusesDuplicateName(t *testing.T) {
	eng := newTestEngine(t)

	_, first, err := eng.CreateNod(RootIno, "dup.txt", AttrTemplate{Perm: 0o644}, true, true)
	require.NoError(t, err)

	_, _, err = eng.CreateNod(RootIno, "dup.txt", AttrTemplate{Perm: 0o644}, true, true)
	require.Error(t, err)
	assert.True(t, sealerr.Is(err, sealerr.AlreadyExists))

	looked, err := eng.Lookup(RootIno, "dup.txt")
	require.NoError(t, err)
	assert.Equal(t, first.Ino, looked.Ino)
}

// Invariant: setattr truncation updates the reported size and future
// reads observe the truncated content.
func TestInvariantSetattrTruncateShrinksContent(t *testing.T) {
	eng := newTestEngine(t)

	h, attr, err := eng.CreateNod(RootIno, "trunc.bin", AttrTemplate{Perm: 0o644}, true, true)
	require.NoError(t, err)
	require.NoError(t, eng.WriteAll(attr.Ino, 0, []byte("0123456789"), h))

	newSize := uint64(4)
	updated, err := eng.Setattr(attr.Ino, SetattrRequest{Size: &newSize})
	require.NoError(t, err)
	assert.EqualValues(t, 4, updated.Size)

	buf := make([]byte, 4)
	n, err := eng.Read(attr.Ino, 0, buf, h)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []byte("0123"), buf)
}

// Invariant: concurrent opposite-direction cross-directory renames do not
// deadlock, thanks to inode-number-ordered lock acquisition.
func TestInvariantConcurrentCrossDirectoryRenamesDoNotDeadlock(t *testing.T) {
	eng := newTestEngine(t)

	_, err := eng.Mkdir(RootIno, "a", 0o755, 0, 0)
	require.NoError(t, err)
	_, err = eng.Mkdir(RootIno, "b", 0o755, 0, 0)
	require.NoError(t, err)

	aAttr, err := eng.Lookup(RootIno, "a")
	require.NoError(t, err)
	bAttr, err := eng.Lookup(RootIno, "b")
	require.NoError(t, err)

	_, _, err = eng.CreateNod(aAttr.Ino, "x.txt", AttrTemplate{Perm: 0o644}, true, true)
	require.NoError(t, err)
	_, _, err = eng.CreateNod(bAttr.Ino, "y.txt", AttrTemplate{Perm: 0o644}, true, true)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	var err1, err2 error
	go func() {
		defer wg.Done()
		err1 = eng.Rename(aAttr.Ino, "x.txt", bAttr.Ino, "x-moved.txt")
	}()
	go func() {
		defer wg.Done()
		err2 = eng.Rename(bAttr.Ino, "y.txt", aAttr.Ino, "y-moved.txt")
	}()
	wg.Wait()

	assert.NoError(t, err1)
	assert.NoError(t, err2)

	_, err = eng.Lookup(bAttr.Ino, "x-moved.txt")
	assert.NoError(t, err)
	_, err = eng.Lookup(aAttr.Ino, "y-moved.txt")
	assert.NoError(t, err)
}

// Invariant: Mkdir refuses to create a directory where a name already
// resolves to something else.
func TestInvariantMkdirRefusesDuplicateName(t *testing.T) {
	eng := newTestEngine(t)

	_, _, err := eng.CreateNod(RootIno, "taken", AttrTemplate{Perm: 0o644}, true, true)
	require.NoError(t, err)

	_, err = eng.Mkdir(RootIno, "taken", 0o755, 0, 0)
	require.Error(t, err)
	assert.True(t, sealerr.Is(err, sealerr.AlreadyExists))
}

// Invariant: a directory's Size (entry count) and Nlink track children
// being added and removed, so getattr never reports a stale count.
func TestInvariantDirectoryCountersTrackChildren(t *testing.T) {
	eng := newTestEngine(t)

	_, _, err := eng.CreateNod(RootIno, "file.txt", AttrTemplate{Perm: 0o644}, true, true)
	require.NoError(t, err)
	root, err := eng.GetAttr(RootIno)
	require.NoError(t, err)
	assert.EqualValues(t, 1, root.Size)
	assert.EqualValues(t, 2, root.Nlink)

	_, err = eng.Mkdir(RootIno, "sub", 0o755, 0, 0)
	require.NoError(t, err)
	root, err = eng.GetAttr(RootIno)
	require.NoError(t, err)
	assert.EqualValues(t, 2, root.Size)
	assert.EqualValues(t, 3, root.Nlink, "a child directory's .. bumps the parent's Nlink")

	require.NoError(t, eng.Unlink(RootIno, "file.txt"))
	root, err = eng.GetAttr(RootIno)
	require.NoError(t, err)
	assert.EqualValues(t, 1, root.Size)
	assert.EqualValues(t, 3, root.Nlink)

	require.NoError(t, eng.Rmdir(RootIno, "sub"))
	root, err = eng.GetAttr(RootIno)
	require.NoError(t, err)
	assert.EqualValues(t, 0, root.Size)
	assert.EqualValues(t, 2, root.Nlink)
}

// Invariant: a newly created file's setuid/setgid bits are stripped
// unless the mount was opened with SuidSupport.
func TestInvariantCreateNodStripsSetuidBitsByDefault(t *testing.T) {
	eng := newTestEngine(t)

	_, attr, err := eng.CreateNod(RootIno, "setuid.bin", AttrTemplate{Perm: 0o4755}, true, true)
	require.NoError(t, err)
	assert.EqualValues(t, 0o755, attr.Perm)
}

func TestInvariantCreateNodKeepsSetuidBitsWhenSuidSupportEnabled(t *testing.T) {
	dir := t.TempDir()
	eng, err := Init(dir, []byte("correct horse battery staple"), aead.ChaCha20, Config{ChunkSize: 8, SuidSupport: true})
	require.NoError(t, err)
	t.Cleanup(eng.Close)

	_, attr, err := eng.CreateNod(RootIno, "setuid.bin", AttrTemplate{Perm: 0o4755}, true, true)
	require.NoError(t, err)
	assert.EqualValues(t, 0o4755, attr.Perm)
}

// Invariant: a non-root caller without write+execute on the parent
// directory cannot create an entry in it.
func TestInvariantCreateNodDeniesWriteWithoutParentPermission(t *testing.T) {
	eng := newTestEngine(t)

	_, err := eng.Mkdir(RootIno, "locked", 0o000, 0, 0)
	require.NoError(t, err)
	lockedAttr, err := eng.Lookup(RootIno, "locked")
	require.NoError(t, err)
	require.EqualValues(t, 0o000, lockedAttr.Perm)

	_, _, err = eng.CreateNod(lockedAttr.Ino, "f.txt", AttrTemplate{Perm: 0o644, UID: 501, GID: 501}, true, true)
	require.Error(t, err)
	assert.True(t, sealerr.Is(err, sealerr.PermissionDenied))
}
