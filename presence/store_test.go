package presence_test

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/habedi/tandem/presence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ts(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func TestSetOne_NewUser(t *testing.T) {
	s := presence.NewStore()
	s.SetOne(presence.Update{
		UserID:     "u1",
		Status:     presence.Ptr(presence.StatusAway),
		LastSeenAt: ts("2024-01-01T00:00:00Z"),
	})

	rec, ok := s.Get("u1")
	require.True(t, ok)
	assert.Equal(t, presence.StatusAway, rec.Status)
	assert.Equal(t, presence.SourceAuto, rec.StatusSource)
	assert.Equal(t, ts("2024-01-01T00:00:00Z"), rec.LastSeenAt)
}

func TestSetOne_WithoutUserIDIsDropped(t *testing.T) {
	s := presence.NewStore()
	s.SetOne(presence.Update{Status: presence.Ptr(presence.StatusOnline)})
	assert.Equal(t, 0, s.Len())
}

func TestMerge_KeepsLastSeenAtWhenOmitted(t *testing.T) {
	s := presence.NewStore()
	s.SetMany([]presence.Update{{
		UserID:     "u1",
		Status:     presence.Ptr(presence.StatusAway),
		LastSeenAt: ts("2024-01-01T00:00:00Z"),
	}})
	s.SetOne(presence.Update{UserID: "u1", Status: presence.Ptr(presence.StatusOnline)})

	rec, _ := s.Get("u1")
	assert.Equal(t, presence.StatusOnline, rec.Status)
	assert.Equal(t, ts("2024-01-01T00:00:00Z"), rec.LastSeenAt)
}

func TestMerge_IsIdempotent(t *testing.T) {
	updates := []presence.Update{
		{UserID: "u1", Status: presence.Ptr(presence.StatusBusy), CustomStatus: presence.Ptr("heads down")},
		{UserID: "u1", Status: presence.Ptr(presence.StatusBusy), StatusSource: presence.Ptr(presence.SourceManual), ManualStatus: presence.Ptr(presence.StatusBusy)},
		{UserID: "u1", Status: presence.Ptr(presence.StatusOnline), Timestamp: ts("2024-02-01T10:00:00Z")},
		{UserID: "u1", Status: presence.Ptr(presence.StatusOnline), ManualStatus: presence.Ptr(presence.StatusAway)},
	}
	for _, u := range updates {
		once := presence.NewStore()
		once.SetOne(presence.Update{UserID: "u1", Status: presence.Ptr(presence.StatusAway), LastSeenAt: ts("2024-01-01T00:00:00Z")})
		once.SetOne(u)

		twice := presence.NewStore()
		twice.SetOne(presence.Update{UserID: "u1", Status: presence.Ptr(presence.StatusAway), LastSeenAt: ts("2024-01-01T00:00:00Z")})
		twice.SetOne(u)
		twice.SetOne(u)

		a, _ := once.Get("u1")
		b, _ := twice.Get("u1")
		assert.Equal(t, a, b)
	}
}

func TestMerge_ManualOverrideSurvivesAutoUpdate(t *testing.T) {
	s := presence.NewStore()
	s.SetOne(presence.Update{
		UserID:       "u1",
		Status:       presence.Ptr(presence.StatusBusy),
		CustomStatus: presence.Ptr("in a meeting"),
		StatusSource: presence.Ptr(presence.SourceManual),
		ManualStatus: presence.Ptr(presence.StatusBusy),
	})
	s.SetOne(presence.Update{
		UserID:       "u1",
		Status:       presence.Ptr(presence.StatusOnline),
		StatusSource: presence.Ptr(presence.SourceAuto),
		LastSeenAt:   ts("2024-03-01T00:00:00Z"),
	})

	rec, _ := s.Get("u1")
	assert.Equal(t, presence.StatusBusy, rec.Status)
	assert.Equal(t, presence.SourceManual, rec.StatusSource)
	require.NotNil(t, rec.CustomStatus)
	assert.Equal(t, "in a meeting", *rec.CustomStatus)
	assert.Equal(t, ts("2024-03-01T00:00:00Z"), rec.LastSeenAt)

	// An update without a source is treated as automatic too.
	s.SetOne(presence.Update{UserID: "u1", Status: presence.Ptr(presence.StatusAway)})
	rec, _ = s.Get("u1")
	assert.Equal(t, presence.StatusBusy, rec.Status)
}

func TestMerge_ClearingManualReleasesStatus(t *testing.T) {
	s := presence.NewStore()
	s.SetOne(presence.Update{
		UserID:       "u1",
		Status:       presence.Ptr(presence.StatusBusy),
		StatusSource: presence.Ptr(presence.SourceManual),
		ManualStatus: presence.Ptr(presence.StatusBusy),
	})
	s.SetOne(presence.Update{
		UserID:       "u1",
		Status:       presence.Ptr(presence.StatusOnline),
		StatusSource: presence.Ptr(presence.SourceAuto),
		Cleared:      presence.FieldManualStatus | presence.FieldManualCustomStatus,
	})

	rec, _ := s.Get("u1")
	assert.Equal(t, presence.StatusOnline, rec.Status)
	assert.Equal(t, presence.SourceAuto, rec.StatusSource)
	assert.Nil(t, rec.ManualStatus)
	assert.False(t, rec.Manual())
}

func TestMerge_ManualUpdateOverridesManual(t *testing.T) {
	s := presence.NewStore()
	s.SetOne(presence.Update{UserID: "u1", Status: presence.Ptr(presence.StatusBusy), StatusSource: presence.Ptr(presence.SourceManual), ManualStatus: presence.Ptr(presence.StatusBusy)})
	s.SetOne(presence.Update{UserID: "u1", Status: presence.Ptr(presence.StatusAway), StatusSource: presence.Ptr(presence.SourceManual), ManualStatus: presence.Ptr(presence.StatusAway)})

	rec, _ := s.Get("u1")
	assert.Equal(t, presence.StatusAway, rec.Status)
}

func TestMerge_ExplicitNullClearsCustomStatus(t *testing.T) {
	s := presence.NewStore()
	s.SetOne(presence.Update{UserID: "u1", Status: presence.Ptr(presence.StatusOnline), CustomStatus: presence.Ptr("lunch")})
	s.SetOne(presence.Update{UserID: "u1", Status: presence.Ptr(presence.StatusOnline)})
	rec, _ := s.Get("u1")
	require.NotNil(t, rec.CustomStatus)

	s.SetOne(presence.Update{UserID: "u1", Cleared: presence.FieldCustomStatus})
	rec, _ = s.Get("u1")
	assert.Nil(t, rec.CustomStatus)
}

func TestSnapshotAndDeltaOrderConverge(t *testing.T) {
	snapshot := []presence.Update{
		{UserID: "u1", Status: presence.Ptr(presence.StatusAway), LastSeenAt: ts("2024-01-01T00:00:00Z")},
		{UserID: "u2", Status: presence.Ptr(presence.StatusOffline)},
	}
	delta := presence.Update{UserID: "u1", Status: presence.Ptr(presence.StatusAway), LastSeenAt: ts("2024-01-01T00:00:00Z")}

	a := presence.NewStore()
	a.SetMany(snapshot)
	a.SetOne(delta)

	b := presence.NewStore()
	b.SetOne(delta)
	b.SetMany(snapshot)

	assert.Equal(t, a.All(), b.All())
}

func TestEnsureOnline(t *testing.T) {
	s := presence.NewStore()
	s.EnsureOnline("me")
	rec, ok := s.Get("me")
	require.True(t, ok)
	assert.Equal(t, presence.StatusOnline, rec.Status)
	assert.Equal(t, presence.SourceAuto, rec.StatusSource)

	s.SetOne(presence.Update{UserID: "me", Status: presence.Ptr(presence.StatusBusy), StatusSource: presence.Ptr(presence.SourceManual), ManualStatus: presence.Ptr(presence.StatusBusy)})
	s.EnsureOnline("me")
	rec, _ = s.Get("me")
	assert.Equal(t, presence.StatusBusy, rec.Status)
	assert.Equal(t, presence.SourceManual, rec.StatusSource)
}

func TestClear(t *testing.T) {
	s := presence.NewStore()
	s.SetMany([]presence.Update{{UserID: "a"}, {UserID: "b"}})
	require.Equal(t, 2, s.Len())
	s.Clear()
	assert.Equal(t, 0, s.Len())
	_, ok := s.Get("a")
	assert.False(t, ok)
}

func TestStore_ConcurrentAccess(t *testing.T) {
	s := presence.NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.SetOne(presence.Update{UserID: "u1", Status: presence.Ptr(presence.StatusOnline)})
		}()
		go func() {
			defer wg.Done()
			_, _ = s.Get("u1")
			_ = s.All()
		}()
	}
	wg.Wait()
	rec, ok := s.Get("u1")
	require.True(t, ok)
	assert.Equal(t, presence.StatusOnline, rec.Status)
}

func TestParseStatus(t *testing.T) {
	st, err := presence.ParseStatus(" Busy ")
	require.NoError(t, err)
	assert.Equal(t, presence.StatusBusy, st)

	_, err = presence.ParseStatus("sleeping")
	assert.Error(t, err)
}

var statuses = []presence.Status{presence.StatusOnline, presence.StatusAway, presence.StatusBusy, presence.StatusOffline}

func randomStatus(r *rand.Rand) *presence.Status {
	if r.Intn(3) == 0 {
		return nil
	}
	return presence.Ptr(statuses[r.Intn(len(statuses))])
}

func randomText(r *rand.Rand) *string {
	if r.Intn(3) == 0 {
		return nil
	}
	return presence.Ptr([]string{"lunch", "focus", "travelling", ""}[r.Intn(4)])
}

func randomTime(r *rand.Rand) *time.Time {
	if r.Intn(2) == 0 {
		return nil
	}
	t := time.Unix(1700000000+r.Int63n(1000000), 0).UTC()
	return &t
}

// randomUpdate builds an update for u1. With auto set, the update carries
// no source or the auto source and never clears manualStatus.
func randomUpdate(r *rand.Rand, auto bool) presence.Update {
	u := presence.Update{
		UserID:             "u1",
		Status:             randomStatus(r),
		CustomStatus:       randomText(r),
		ManualStatus:       randomStatus(r),
		ManualCustomStatus: randomText(r),
		LastSeenAt:         randomTime(r),
		Timestamp:          randomTime(r),
		Cleared:            presence.Fields(r.Intn(8)),
	}
	switch r.Intn(3) {
	case 1:
		u.StatusSource = presence.Ptr(presence.SourceAuto)
	case 2:
		if !auto {
			u.StatusSource = presence.Ptr(presence.SourceManual)
		}
	}
	if auto {
		u.Cleared &^= presence.FieldManualStatus
	}
	return u
}

func TestMerge_ManualProtectionProperty(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		s := presence.NewStore()
		s.SetOne(presence.Update{
			UserID:       "u1",
			Status:       presence.Ptr(statuses[r.Intn(len(statuses))]),
			CustomStatus: randomText(r),
			StatusSource: presence.Ptr(presence.SourceManual),
			ManualStatus: presence.Ptr(statuses[r.Intn(len(statuses))]),
			LastSeenAt:   randomTime(r),
			Timestamp:    randomTime(r),
		})
		before, _ := s.Get("u1")
		require.True(t, before.Manual())

		u := randomUpdate(r, true)
		s.SetOne(u)
		after, _ := s.Get("u1")

		assert.Equal(t, before.Status, after.Status, "iteration %d", i)
		assert.Equal(t, before.CustomStatus, after.CustomStatus, "iteration %d", i)
		assert.Equal(t, presence.SourceManual, after.StatusSource, "iteration %d", i)
		assert.True(t, after.Manual(), "iteration %d", i)

		wantSeen, wantTS := before.LastSeenAt, before.Timestamp
		if u.LastSeenAt != nil {
			wantSeen = u.LastSeenAt
		}
		if u.Timestamp != nil {
			wantTS = u.Timestamp
		}
		assert.Equal(t, wantSeen, after.LastSeenAt, "iteration %d", i)
		assert.Equal(t, wantTS, after.Timestamp, "iteration %d", i)
	}
}

func TestMerge_IdempotenceProperty(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		seed := randomUpdate(r, false)
		u := randomUpdate(r, r.Intn(2) == 0)

		once := presence.NewStore()
		once.SetOne(seed)
		once.SetOne(u)

		twice := presence.NewStore()
		twice.SetOne(seed)
		twice.SetOne(u)
		twice.SetOne(u)

		a, _ := once.Get("u1")
		b, _ := twice.Get("u1")
		assert.Equal(t, a, b, "iteration %d", i)
	}
}
