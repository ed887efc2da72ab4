package mpu_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/shoal/pkg/gateway"
	gwerrors "github.com/marmos91/shoal/pkg/gateway/errors"
	"github.com/marmos91/shoal/pkg/meta"
	"github.com/marmos91/shoal/pkg/meta/store/memory"
	"github.com/marmos91/shoal/pkg/mpu"
	"github.com/marmos91/shoal/pkg/placement"
	"github.com/marmos91/shoal/pkg/shark"
	"github.com/marmos91/shoal/pkg/shark/sharktest"
)

type testEnv struct {
	gw  *gateway.Gateway
	mgr *mpu.Manager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	sharks := []*sharktest.FakeShark{
		sharktest.New(t), sharktest.New(t), sharktest.New(t),
	}
	view := placement.NewView(placement.StaticSource{
		sharks[0].Node("1.shark", "dc-a"),
		sharks[1].Node("2.shark", "dc-b"),
		sharks[2].Node("3.shark", "dc-c"),
	})
	require.NoError(t, view.Refresh(ctx))

	planner := placement.NewPlanner(view, placement.Config{})
	client := shark.NewClient(0)
	fanout := shark.NewFanout(client, view)

	mc := meta.NewClient([]meta.Store{memory.New(), memory.New(), memory.New()})
	gw := gateway.New(mc, planner, fanout, gateway.Config{})
	mgr := mpu.NewManager(gw, client, view, mpu.Config{})

	require.NoError(t, gw.EnsureDirectory(ctx, "u", "/u/stor"))
	return &testEnv{gw: gw, mgr: mgr}
}

func create(t *testing.T, e *testEnv, headers map[string]string) *mpu.CreateResult {
	t.Helper()
	res, err := e.mgr.Create(context.Background(), &mpu.CreateInput{
		Account:    "u",
		ObjectPath: "/u/stor/big",
		Headers:    headers,
	})
	require.NoError(t, err)
	return res
}

func uploadPart(t *testing.T, e *testEnv, id string, num int, body []byte) string {
	t.Helper()
	res, err := e.mgr.UploadPart(context.Background(), &mpu.UploadPartInput{
		Account:       "u",
		ID:            id,
		PartNum:       num,
		Body:          bytes.NewReader(body),
		ContentLength: int64(len(body)),
	})
	require.NoError(t, err)
	return res.Etag
}

func TestUploadIDs(t *testing.T) {
	t.Parallel()

	t.Run("EncodesPrefixLength", func(t *testing.T) {
		id := mpu.NewUploadID(3)
		assert.Len(t, id, 32)
		assert.True(t, mpu.ValidID(id))
		assert.Equal(t, 3, mpu.PrefixLen(id))
	})

	t.Run("LegacyFallback", func(t *testing.T) {
		// Last digit outside [1,4] means a legacy id.
		assert.Equal(t, mpu.LegacyPrefixLen, mpu.PrefixLen("0123456789abcdef0123456789abcde9"))
		assert.Equal(t, mpu.LegacyPrefixLen, mpu.PrefixLen("0123456789abcdef0123456789abcde0"))
	})

	t.Run("UploadKeyLayout", func(t *testing.T) {
		assert.Equal(t, "/u/uploads/9f1/9f1aa3e801d2b0c49f1aa3e801d2b0c3",
			mpu.UploadKey("u", "9f1aa3e801d2b0c49f1aa3e801d2b0c3", 3))
	})
}

func TestCreate(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	res := create(t, e, nil)
	assert.Len(t, res.ID, 32)
	assert.Equal(t, "/u/uploads/"+res.ID[:1]+"/"+res.ID, res.PartsDirectory)

	state, err := e.mgr.State(context.Background(), "u", res.ID)
	require.NoError(t, err)
	assert.Equal(t, "created", strings.ToLower(state.State))
	assert.Equal(t, "/u/stor/big", state.TargetObject)
	assert.Equal(t, 2, state.NumCopies)
}

func TestCreate_Validation(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   *mpu.CreateInput
	}{
		{"EmptyObjectPath", &mpu.CreateInput{Account: "u", ObjectPath: ""}},
		{"WrongAccount", &mpu.CreateInput{Account: "u", ObjectPath: "/other/stor/x"}},
		{"AccountRoot", &mpu.CreateInput{Account: "u", ObjectPath: "/u"}},
		{"ConditionalHeader", &mpu.CreateInput{
			Account: "u", ObjectPath: "/u/stor/x",
			Headers: map[string]string{"if-match": `"abc"`},
		}},
		{"NegativeContentLength", &mpu.CreateInput{
			Account: "u", ObjectPath: "/u/stor/x",
			Headers: map[string]string{"content-length": "-5"},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.mgr.Create(ctx, tc.in)
			require.Error(t, err)
			assert.Equal(t, gwerrors.CodeInvalidArgument, gwerrors.CodeOf(err))
		})
	}

	t.Run("ExcessiveDurability", func(t *testing.T) {
		_, err := e.mgr.Create(ctx, &mpu.CreateInput{
			Account: "u", ObjectPath: "/u/stor/x",
			Headers: map[string]string{"durability-level": "12"},
		})
		require.Error(t, err)
		assert.Equal(t, gwerrors.CodeInvalidDurabilityLevel, gwerrors.CodeOf(err))
	})
}

func TestCommit_HappyPath(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	ctx := context.Background()

	res := create(t, e, nil)

	part0 := bytes.Repeat([]byte{0x41}, 5<<20)
	part1 := []byte("END")
	etag0 := uploadPart(t, e, res.ID, 0, part0)
	etag1 := uploadPart(t, e, res.ID, 1, part1)

	committed, err := e.mgr.Commit(ctx, &mpu.CommitInput{
		Account: "u",
		ID:      res.ID,
		Parts:   []string{etag0, etag1},
	})
	require.NoError(t, err)
	assert.Equal(t, "/u/stor/big", committed.ObjectPath)
	assert.NotEmpty(t, committed.Etag)
	assert.NotEmpty(t, committed.ComputedMD5)

	got, err := e.gw.GetObject(ctx, &gateway.GetObjectInput{
		Account: "u", Path: "/u/stor/big", Method: http.MethodGet,
	})
	require.NoError(t, err)
	require.NotNil(t, got.Body)
	defer got.Body.Close()

	body, err := io.ReadAll(got.Body)
	require.NoError(t, err)
	assert.Equal(t, 5242883, len(body))
	assert.Equal(t, append(append([]byte{}, part0...), part1...), body)
	assert.Equal(t, committed.ComputedMD5, got.Record.ContentMD5)
}

func TestCommit_Idempotent(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	ctx := context.Background()

	res := create(t, e, nil)
	etag0 := uploadPart(t, e, res.ID, 0, []byte("only part"))

	first, err := e.mgr.Commit(ctx, &mpu.CommitInput{
		Account: "u", ID: res.ID, Parts: []string{etag0},
	})
	require.NoError(t, err)

	second, err := e.mgr.Commit(ctx, &mpu.CommitInput{
		Account: "u", ID: res.ID, Parts: []string{etag0},
	})
	require.NoError(t, err)

	// No second object record materializes.
	assert.Equal(t, first.Etag, second.Etag)
	assert.Equal(t, first.ComputedMD5, second.ComputedMD5)
}

func TestCommit_DifferentPartsAfterCommit(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	ctx := context.Background()

	res := create(t, e, nil)
	etag0 := uploadPart(t, e, res.ID, 0, []byte("committed part"))

	_, err := e.mgr.Commit(ctx, &mpu.CommitInput{
		Account: "u", ID: res.ID, Parts: []string{etag0},
	})
	require.NoError(t, err)

	_, err = e.mgr.Commit(ctx, &mpu.CommitInput{
		Account: "u", ID: res.ID, Parts: []string{"different-etag"},
	})
	require.Error(t, err)
	assert.Equal(t, gwerrors.CodeStateError, gwerrors.CodeOf(err))
}

// uploadRaceInjector makes conditional writes to one key fail with an etag
// mismatch a fixed number of times, simulating concurrent finalization.
type uploadRaceInjector struct {
	key      string
	failures int
}

type racingStore struct {
	meta.Store
	inj *uploadRaceInjector
}

func (s *racingStore) Put(ctx context.Context, key string, value []byte, cond meta.Condition) (*meta.Entry, error) {
	if key == s.inj.key && s.inj.failures > 0 {
		s.inj.failures--
		return nil, meta.NewEtagMismatchError(key, "stale", "fresh")
	}
	return s.Store.Put(ctx, key, value, cond)
}

func newRacingEnv(t *testing.T) (*testEnv, *uploadRaceInjector) {
	t.Helper()
	ctx := context.Background()

	sharks := []*sharktest.FakeShark{
		sharktest.New(t), sharktest.New(t), sharktest.New(t),
	}
	view := placement.NewView(placement.StaticSource{
		sharks[0].Node("1.shark", "dc-a"),
		sharks[1].Node("2.shark", "dc-b"),
		sharks[2].Node("3.shark", "dc-c"),
	})
	require.NoError(t, view.Refresh(ctx))

	planner := placement.NewPlanner(view, placement.Config{})
	client := shark.NewClient(0)
	fanout := shark.NewFanout(client, view)

	inj := &uploadRaceInjector{}
	mc := meta.NewClient([]meta.Store{
		&racingStore{Store: memory.New(), inj: inj},
		&racingStore{Store: memory.New(), inj: inj},
		&racingStore{Store: memory.New(), inj: inj},
	})
	gw := gateway.New(mc, planner, fanout, gateway.Config{})
	mgr := mpu.NewManager(gw, client, view, mpu.Config{})

	require.NoError(t, gw.EnsureDirectory(ctx, "u", "/u/stor"))
	return &testEnv{gw: gw, mgr: mgr}, inj
}

func TestCommit_LostTransitionRace(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("RedrivesOnce", func(t *testing.T) {
		e, inj := newRacingEnv(t)
		res := create(t, e, nil)
		etag0 := uploadPart(t, e, res.ID, 0, []byte("raced part"))

		inj.key = res.PartsDirectory
		inj.failures = 1

		committed, err := e.mgr.Commit(ctx, &mpu.CommitInput{
			Account: "u", ID: res.ID, Parts: []string{etag0},
		})
		require.NoError(t, err)
		assert.NotEmpty(t, committed.Etag)
		assert.Zero(t, inj.failures)
	})

	t.Run("GivesUpAfterOneReread", func(t *testing.T) {
		e, inj := newRacingEnv(t)
		res := create(t, e, nil)
		etag0 := uploadPart(t, e, res.ID, 0, []byte("raced part"))

		inj.key = res.PartsDirectory
		inj.failures = 10

		_, err := e.mgr.Commit(ctx, &mpu.CommitInput{
			Account: "u", ID: res.ID, Parts: []string{etag0},
		})
		require.Error(t, err)
		assert.Equal(t, gwerrors.CodeConcurrentRequest, gwerrors.CodeOf(err))
		// Two attempts, not one per injected failure.
		assert.Equal(t, 8, inj.failures)
	})
}

func TestAbort_LostTransitionRace(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("RedrivesOnce", func(t *testing.T) {
		e, inj := newRacingEnv(t)
		res := create(t, e, nil)

		inj.key = res.PartsDirectory
		inj.failures = 1

		require.NoError(t, e.mgr.Abort(ctx, "u", res.ID))
		assert.Zero(t, inj.failures)
	})

	t.Run("GivesUpAfterOneReread", func(t *testing.T) {
		e, inj := newRacingEnv(t)
		res := create(t, e, nil)

		inj.key = res.PartsDirectory
		inj.failures = 10

		err := e.mgr.Abort(ctx, "u", res.ID)
		require.Error(t, err)
		assert.Equal(t, gwerrors.CodeConcurrentRequest, gwerrors.CodeOf(err))
		assert.Equal(t, 8, inj.failures)
	})
}

func TestCommit_PartValidation(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	ctx := context.Background()

	t.Run("TooManyParts", func(t *testing.T) {
		res := create(t, e, nil)
		parts := make([]string, 10001)
		_, err := e.mgr.Commit(ctx, &mpu.CommitInput{Account: "u", ID: res.ID, Parts: parts})
		require.Error(t, err)
		assert.Equal(t, gwerrors.CodeInvalidArgument, gwerrors.CodeOf(err))
	})

	t.Run("MissingPart", func(t *testing.T) {
		res := create(t, e, nil)
		_, err := e.mgr.Commit(ctx, &mpu.CommitInput{
			Account: "u", ID: res.ID, Parts: []string{"never-uploaded"},
		})
		require.Error(t, err)
		assert.Equal(t, gwerrors.CodeInvalidArgument, gwerrors.CodeOf(err))
	})

	t.Run("WrongEtag", func(t *testing.T) {
		res := create(t, e, nil)
		uploadPart(t, e, res.ID, 0, []byte("data"))
		_, err := e.mgr.Commit(ctx, &mpu.CommitInput{
			Account: "u", ID: res.ID, Parts: []string{"stale-etag"},
		})
		require.Error(t, err)
		assert.Equal(t, gwerrors.CodeInvalidArgument, gwerrors.CodeOf(err))
	})

	t.Run("ShortNonFinalPart", func(t *testing.T) {
		res := create(t, e, nil)
		etag0 := uploadPart(t, e, res.ID, 0, []byte("too small"))
		etag1 := uploadPart(t, e, res.ID, 1, []byte("last"))
		_, err := e.mgr.Commit(ctx, &mpu.CommitInput{
			Account: "u", ID: res.ID, Parts: []string{etag0, etag1},
		})
		require.Error(t, err)
		assert.Equal(t, gwerrors.CodeInvalidArgument, gwerrors.CodeOf(err))
	})

	t.Run("DeclaredSizeMismatch", func(t *testing.T) {
		res := create(t, e, map[string]string{"content-length": "100"})
		etag0 := uploadPart(t, e, res.ID, 0, []byte("five!"))
		_, err := e.mgr.Commit(ctx, &mpu.CommitInput{
			Account: "u", ID: res.ID, Parts: []string{etag0},
		})
		require.Error(t, err)
		assert.Equal(t, gwerrors.CodeInvalidArgument, gwerrors.CodeOf(err))
	})
}

func TestCommit_ZeroByte(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	ctx := context.Background()

	res := create(t, e, map[string]string{"content-length": "0"})

	committed, err := e.mgr.Commit(ctx, &mpu.CommitInput{
		Account: "u", ID: res.ID, Parts: nil,
	})
	require.NoError(t, err)
	assert.Equal(t, meta.ZeroByteMD5, committed.ComputedMD5)

	got, err := e.gw.GetObject(ctx, &gateway.GetObjectInput{
		Account: "u", Path: "/u/stor/big", Method: http.MethodGet,
	})
	require.NoError(t, err)
	assert.Zero(t, got.Record.ContentLength)
	assert.Empty(t, got.Record.Sharks)
}

func TestAbort(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	ctx := context.Background()

	res := create(t, e, nil)
	require.NoError(t, e.mgr.Abort(ctx, "u", res.ID))

	t.Run("Idempotent", func(t *testing.T) {
		require.NoError(t, e.mgr.Abort(ctx, "u", res.ID))
	})

	t.Run("StateShowsAbort", func(t *testing.T) {
		state, err := e.mgr.State(ctx, "u", res.ID)
		require.NoError(t, err)
		assert.Equal(t, string(meta.StateFinalizing), state.State)
		assert.Equal(t, string(meta.FinalizeAbort), state.Type)
	})

	t.Run("CommitAfterAbort", func(t *testing.T) {
		_, err := e.mgr.Commit(ctx, &mpu.CommitInput{Account: "u", ID: res.ID})
		require.Error(t, err)
		assert.Equal(t, gwerrors.CodeStateError, gwerrors.CodeOf(err))
	})

	t.Run("PartAfterAbort", func(t *testing.T) {
		_, err := e.mgr.UploadPart(ctx, &mpu.UploadPartInput{
			Account: "u", ID: res.ID, PartNum: 0,
			Body: strings.NewReader("late"), ContentLength: 4,
		})
		require.Error(t, err)
		assert.Equal(t, gwerrors.CodeStateError, gwerrors.CodeOf(err))
	})
}

func TestAbort_AfterCommitConflicts(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	ctx := context.Background()

	res := create(t, e, nil)
	etag0 := uploadPart(t, e, res.ID, 0, []byte("done"))
	_, err := e.mgr.Commit(ctx, &mpu.CommitInput{
		Account: "u", ID: res.ID, Parts: []string{etag0},
	})
	require.NoError(t, err)

	err = e.mgr.Abort(ctx, "u", res.ID)
	require.Error(t, err)
	assert.Equal(t, gwerrors.CodeFinalizeConflict, gwerrors.CodeOf(err))
}

func TestUploadPart_Bounds(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	ctx := context.Background()

	res := create(t, e, nil)

	for _, num := range []int{-1, 10000} {
		_, err := e.mgr.UploadPart(ctx, &mpu.UploadPartInput{
			Account: "u", ID: res.ID, PartNum: num,
			Body: strings.NewReader("x"), ContentLength: 1,
		})
		require.Error(t, err)
		assert.Equal(t, gwerrors.CodeInvalidArgument, gwerrors.CodeOf(err))
	}

	t.Run("UnknownUpload", func(t *testing.T) {
		_, err := e.mgr.UploadPart(ctx, &mpu.UploadPartInput{
			Account: "u", ID: mpu.NewUploadID(1), PartNum: 0,
			Body: strings.NewReader("x"), ContentLength: 1,
		})
		require.Error(t, err)
		assert.Equal(t, gwerrors.CodeResourceNotFound, gwerrors.CodeOf(err))
	})
}

func TestUploadPart_ZeroByteUploadHasNoReplicas(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	res := create(t, e, map[string]string{"content-length": "0"})
	_, err := e.mgr.UploadPart(context.Background(), &mpu.UploadPartInput{
		Account: "u", ID: res.ID, PartNum: 0,
		Body: strings.NewReader("x"), ContentLength: 1,
	})
	require.Error(t, err)
	assert.Equal(t, gwerrors.CodeInvalidArgument, gwerrors.CodeOf(err))
}
