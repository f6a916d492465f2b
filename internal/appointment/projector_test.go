package appointment

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCurrentStatus_EmptyHistoryIsPending(t *testing.T) {
	assert.Equal(t, StatusPending, CurrentStatus(nil))
}

func TestCurrentStatus_LatestEventWins(t *testing.T) {
	id := uuid.New()
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	events := []StatusEvent{
		{ID: 1, AppointmentID: id, Status: StatusPending, CreatedAt: base},
		{ID: 3, AppointmentID: id, Status: StatusCancelled, CreatedAt: base.Add(2 * time.Minute)},
		{ID: 2, AppointmentID: id, Status: StatusConfirmed, CreatedAt: base.Add(time.Minute)},
	}

	assert.Equal(t, StatusCancelled, CurrentStatus(events))
}

func TestCurrentStatus_TimestampTieBrokenByID(t *testing.T) {
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	events := []StatusEvent{
		{ID: 8, Status: StatusCancelled, CreatedAt: at},
		{ID: 7, Status: StatusPending, CreatedAt: at},
	}
	assert.Equal(t, StatusCancelled, CurrentStatus(events))

	events[0].ID, events[1].ID = 7, 8
	assert.Equal(t, StatusPending, CurrentStatus(events))
}

func TestProject_NoCancellation(t *testing.T) {
	p := Project([]StatusEvent{{ID: 1, Status: StatusConfirmed}}, nil)

	assert.Equal(t, StatusConfirmed, p.Status)
	assert.Nil(t, p.CancelReason)
	assert.Nil(t, p.CancelActor)
}

func TestProject_UsesLastCancellation(t *testing.T) {
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	first := "No puedo asistir"
	second := "Emergencia familiar"

	p := Project(
		[]StatusEvent{{ID: 1, Status: StatusCancelled, CreatedAt: at}},
		[]CancellationRecord{
			{ID: 2, Reason: &second, Actor: ActorDoctor, CreatedAt: at},
			{ID: 1, Reason: &first, Actor: ActorPatient, CreatedAt: at},
		},
	)

	assert.Equal(t, StatusCancelled, p.Status)
	require.NotNil(t, p.CancelReason)
	assert.Equal(t, second, *p.CancelReason)
	require.NotNil(t, p.CancelActor)
	assert.Equal(t, ActorDoctor, *p.CancelActor)
}

func TestProject_NullReasonKeepsActor(t *testing.T) {
	p := Project(nil, []CancellationRecord{{ID: 1, Actor: ActorPatient}})

	assert.Nil(t, p.CancelReason)
	require.NotNil(t, p.CancelActor)
	assert.Equal(t, ActorPatient, *p.CancelActor)
}
