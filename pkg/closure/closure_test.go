package closure

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arc-language/reloc/pkg/core"
	"github.com/arc-language/reloc/pkg/registration"
)

const (
	glibc   = core.ArtifactID("0c7dx2m4fwjrxqwxxyk7dc3k1j5k0adm-glibc-2.39")
	bash    = core.ArtifactID("1b9p07z77phvv2hf6gm9f28syp39f1ag-bash-5.2p26")
	hello   = core.ArtifactID("s66mzxpvicwk07gjbjfw9izjfa797vsw-hello-2.12.1")
	zlib    = core.ArtifactID("2b3c4d5f6g7h8i9j0k1l2m3n4p5q6r7s-zlib-1.3.1")
	openssl = core.ArtifactID("3w4x5y6z7a8b9c0d1f2g3h4i5j6k7l8m-openssl-3.0.13")
)

// graph builds a resolver from id -> references
func graph(rel map[core.ArtifactID][]core.ArtifactID) StaticResolver {
	r := make(StaticResolver, len(rel))
	for id, refs := range rel {
		r[id] = &core.ArtifactInfo{ID: id, Size: int64(len(id)), References: refs}
	}
	return r
}

type countingResolver struct {
	StaticResolver
	calls map[core.ArtifactID]int
}

func (c *countingResolver) Resolve(ctx context.Context, id core.ArtifactID) (*core.ArtifactInfo, error) {
	c.calls[id]++
	return c.StaticResolver.Resolve(ctx, id)
}

func TestComputeSingleArtifact(t *testing.T) {
	t.Parallel()

	c, err := Compute(context.Background(), graph(map[core.ArtifactID][]core.ArtifactID{
		hello: nil,
	}), []core.ArtifactID{hello})
	require.NoError(t, err)
	require.Equal(t, []core.ArtifactID{hello}, c.Artifacts)
	require.Len(t, c.Registration, 1)
	require.True(t, c.IsRoot(hello))
}

func TestComputeDependencyComesFirst(t *testing.T) {
	t.Parallel()

	c, err := Compute(context.Background(), graph(map[core.ArtifactID][]core.ArtifactID{
		hello: {glibc},
		glibc: nil,
	}), []core.ArtifactID{hello})
	require.NoError(t, err)
	require.Equal(t, []core.ArtifactID{glibc, hello}, c.Artifacts)
	require.Equal(t, []core.ArtifactID{glibc, hello}, registration.IDs(c.Registration))
	require.False(t, c.IsRoot(glibc))
}

func TestComputeCompleteAndTopological(t *testing.T) {
	t.Parallel()

	rel := map[core.ArtifactID][]core.ArtifactID{
		hello:   {bash, glibc, hello},
		bash:    {glibc, bash},
		openssl: {zlib, glibc},
		zlib:    {glibc},
		glibc:   {glibc},
	}
	c, err := Compute(context.Background(), graph(rel), []core.ArtifactID{openssl, hello})
	require.NoError(t, err)
	require.Len(t, c.Artifacts, 5)

	members := make(map[core.ArtifactID]int)
	for i, id := range c.Artifacts {
		members[id] = i
	}
	for i, e := range c.Registration {
		require.Equal(t, c.Artifacts[i], e.ID)
		for _, ref := range e.References {
			idx, ok := members[ref]
			require.True(t, ok, "%s references %s outside the closure", e.ID, ref)
			require.LessOrEqual(t, idx, i)
		}
	}
	require.NoError(t, registration.Validate(c.Registration))

	// self references survive into the registration
	require.Contains(t, c.Registration[members[glibc]].References, glibc)
}

func TestComputeIsDeterministic(t *testing.T) {
	t.Parallel()

	rel := map[core.ArtifactID][]core.ArtifactID{
		hello:   {openssl, bash},
		bash:    {glibc},
		openssl: {zlib, glibc},
		zlib:    {glibc},
		glibc:   nil,
	}

	first, err := Compute(context.Background(), graph(rel), []core.ArtifactID{hello, zlib})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		again, err := Compute(context.Background(), graph(rel), []core.ArtifactID{zlib, hello, zlib})
		require.NoError(t, err)
		require.Equal(t, first.Artifacts, again.Artifacts)
		require.Equal(t, first.Registration, again.Registration)
	}
}

func TestComputeVisitsEachArtifactOnce(t *testing.T) {
	t.Parallel()

	r := &countingResolver{
		StaticResolver: graph(map[core.ArtifactID][]core.ArtifactID{
			hello:   {bash, openssl},
			bash:    {glibc},
			openssl: {glibc},
			glibc:   nil,
		}),
		calls: make(map[core.ArtifactID]int),
	}
	_, err := Compute(context.Background(), r, []core.ArtifactID{hello, bash})
	require.NoError(t, err)
	for id, n := range r.calls {
		require.Equal(t, 1, n, "resolved %s more than once", id)
	}
}

func TestComputeErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		rel   map[core.ArtifactID][]core.ArtifactID
		roots []core.ArtifactID
		want  error
	}{
		{
			name: "empty roots",
			rel:  map[core.ArtifactID][]core.ArtifactID{hello: nil},
			want: core.ErrEmptyClosure,
		},
		{
			name:  "unknown root",
			rel:   map[core.ArtifactID][]core.ArtifactID{},
			roots: []core.ArtifactID{hello},
			want:  core.ErrUnresolvedDependency,
		},
		{
			name:  "dangling reference",
			rel:   map[core.ArtifactID][]core.ArtifactID{hello: {glibc}},
			roots: []core.ArtifactID{hello},
			want:  core.ErrUnresolvedDependency,
		},
		{
			name: "cycle",
			rel: map[core.ArtifactID][]core.ArtifactID{
				hello: {bash},
				bash:  {zlib},
				zlib:  {hello},
			},
			roots: []core.ArtifactID{hello},
			want:  core.ErrCycleDetected,
		},
		{
			name: "two node cycle below a root",
			rel: map[core.ArtifactID][]core.ArtifactID{
				hello: {glibc},
				glibc: {bash},
				bash:  {glibc},
			},
			roots: []core.ArtifactID{hello},
			want:  core.ErrCycleDetected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, err := Compute(context.Background(), graph(tt.rel), tt.roots)
			require.ErrorIs(t, err, tt.want)
			require.Nil(t, c)

			var cerr *core.Error
			require.True(t, errors.As(err, &cerr))
		})
	}
}

func TestComputeCycleNamesPath(t *testing.T) {
	t.Parallel()

	_, err := Compute(context.Background(), graph(map[core.ArtifactID][]core.ArtifactID{
		hello: {bash},
		bash:  {hello},
	}), []core.ArtifactID{hello})
	require.ErrorIs(t, err, core.ErrCycleDetected)
	require.Contains(t, err.Error(), fmt.Sprintf("%s -> %s -> %s", hello, bash, hello))
}

func TestComputeDeepChain(t *testing.T) {
	t.Parallel()

	const depth = 100000
	rel := make(map[core.ArtifactID][]core.ArtifactID, depth)
	ids := make([]core.ArtifactID, depth)
	for i := range ids {
		ids[i] = core.ArtifactID(fmt.Sprintf("%032d-link-%d", i, i))
	}
	for i := 0; i < depth-1; i++ {
		rel[ids[i]] = []core.ArtifactID{ids[i+1]}
	}
	rel[ids[depth-1]] = nil

	c, err := Compute(context.Background(), graph(rel), ids[:1])
	require.NoError(t, err)
	require.Len(t, c.Artifacts, depth)
	require.Equal(t, ids[depth-1], c.Artifacts[0])
	require.Equal(t, ids[0], c.Artifacts[depth-1])
}

func TestComputeHonoursCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Compute(ctx, graph(map[core.ArtifactID][]core.ArtifactID{hello: nil}), []core.ArtifactID{hello})
	require.ErrorIs(t, err, context.Canceled)
}

func TestStaticResolverFromRegistration(t *testing.T) {
	t.Parallel()

	entries := []registration.Entry{
		{ID: glibc, NarHash: "sha256:aa", NarSize: 10, References: []core.ArtifactID{glibc}},
		{ID: hello, NarHash: "sha256:bb", NarSize: 20, References: []core.ArtifactID{glibc}},
	}
	c, err := Compute(context.Background(), NewStaticResolver(entries), []core.ArtifactID{hello})
	require.NoError(t, err)
	require.Equal(t, entries, c.Registration)
}
