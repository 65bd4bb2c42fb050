package registration

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arc-language/reloc/pkg/core"
)

const (
	glibc = core.ArtifactID("0c7dx2m4fwjrxqwxxyk7dc3k1j5k0adm-glibc-2.39")
	bash  = core.ArtifactID("1b9p07z77phvv2hf6gm9f28syp39f1ag-bash-5.2p26")
	hello = core.ArtifactID("s66mzxpvicwk07gjbjfw9izjfa797vsw-hello-2.12.1")
	drv   = core.ArtifactID("9krlzvny65gdc8s7kpb6lkx8cd02c25b-hello-2.12.1.drv")
)

func sample() []Entry {
	return []Entry{
		{ID: glibc, NarHash: "sha256:aa", NarSize: 100, References: []core.ArtifactID{glibc}},
		{ID: bash, NarHash: "sha256:bb", NarSize: 200, References: []core.ArtifactID{bash, glibc}},
		{ID: hello, NarHash: "sha256:cc", NarSize: 300, Deriver: drv, References: []core.ArtifactID{bash, glibc}},
	}
}

func TestWriteFormat(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, "/data/nix/store", sample()[2:]))

	want := "/data/nix/store/" + string(hello) + "\n" +
		"sha256:cc\n" +
		"300\n" +
		"/data/nix/store/" + string(drv) + "\n" +
		"2\n" +
		"/data/nix/store/" + string(bash) + "\n" +
		"/data/nix/store/" + string(glibc) + "\n"
	require.Equal(t, want, buf.String())
}

func TestWriteReadPreservesEntriesAndStoreDir(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, "/data/nix/store", sample()))

	storeDir, got, err := Read(&buf)
	require.NoError(t, err)
	require.Equal(t, "/data/nix/store", storeDir)
	require.Equal(t, sample(), got)
}

func TestReadRejectsMixedStoreDirs(t *testing.T) {
	t.Parallel()

	input := "/nix/store/" + string(bash) + "\nsha256:bb\n1\n\n1\n/other/store/" + string(glibc) + "\n"
	_, _, err := Read(bytes.NewBufferString(input))
	require.Error(t, err)
}

func TestReadRejectsTruncatedRecord(t *testing.T) {
	t.Parallel()

	_, _, err := Read(bytes.NewBufferString("/nix/store/" + string(bash) + "\nsha256:bb\n"))
	require.ErrorContains(t, err, "truncated")
}

func TestValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, Validate(sample()))
	require.NoError(t, Validate(nil))

	reordered := sample()
	reordered[0], reordered[1] = reordered[1], reordered[0]
	require.ErrorIs(t, Validate(reordered), ErrNotTopological)

	incomplete := sample()[1:]
	require.ErrorIs(t, Validate(incomplete), core.ErrUnresolvedDependency)

	duplicated := append(sample(), sample()[0])
	require.ErrorContains(t, Validate(duplicated), "duplicate")
}
