package actions_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/reflib/libraryd/internal/actions"
)

func TestDispatch_ScanCompletedBumpsMediaVersion(t *testing.T) {
	store := actions.NewStore(nil)

	before := store.State().MediaV
	store.Dispatch(actions.ScanCompleted{
		Meta:          store.MakeMeta("scan"),
		JobID:         1,
		PhotosIndexed: 3,
		VideosIndexed: 1,
	})

	after := store.State()
	assert.Equal(t, before+1, after.MediaV)
	assert.Equal(t, before+1, after.VideosV, "a scan that indexed videos also bumps VideosV")
}

func TestSubscribe_NotifiedAfterDispatchAndUnsubscribeStopsDelivery(t *testing.T) {
	store := actions.NewStore(nil)

	var calls int
	unsubscribe := store.Subscribe(func(state *actions.State, action actions.Action) {
		calls++
	})

	store.Dispatch(actions.ScanCompleted{Meta: store.MakeMeta("scan"), JobID: 1})
	assert.Equal(t, 1, calls)

	unsubscribe()
	store.Dispatch(actions.ScanCompleted{Meta: store.MakeMeta("scan"), JobID: 2})
	assert.Equal(t, 1, calls, "no further notifications after unsubscribe")
}

func TestMakeMeta_CarriesCurrentProjectID(t *testing.T) {
	store := actions.NewStore(nil)
	store.Dispatch(actions.ProjectSelected{Meta: store.MakeMeta("test"), ProjectID: 42})

	meta := store.MakeMeta("probe")
	assert.Equal(t, int64(42), meta.ProjectID)
}
