package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fieldops/internal/model"
)

func TestMemoryWorkOrderLifecycle(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	o, err := m.CreateWorkOrder(ctx, model.WorkOrder{
		Kind:         model.KindPreventive,
		BuildingID:   "b1",
		TemplateID:   "t1",
		TechnicianID: "tech1",
		ScheduledAt:  time.Date(2025, 9, 1, 9, 0, 0, 0, time.UTC),
		Status:       model.StatusScheduled,
		Events:       []model.Event{{Kind: model.EventAssigned, TS: time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC)}},
	})
	require.NoError(t, err)
	require.NotEmpty(t, o.ID)
	require.Len(t, o.Events, 1)
	require.Equal(t, o.ID, o.Events[0].OrderID)
	require.NotEmpty(t, o.Events[0].ID)

	o.Status = model.StatusInProgress
	updated, err := m.UpdateWorkOrder(ctx, o, []model.Event{
		{Kind: model.EventArrived, TS: time.Date(2025, 9, 1, 9, 5, 0, 0, time.UTC)},
	})
	require.NoError(t, err)
	require.Equal(t, model.StatusInProgress, updated.Status)
	require.Len(t, updated.Events, 2)

	_, err = m.GetWorkOrder(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryEventsSortedByTimestamp(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	base := time.Date(2025, 9, 1, 9, 0, 0, 0, time.UTC)
	o, err := m.CreateWorkOrder(ctx, model.WorkOrder{Status: model.StatusScheduled})
	require.NoError(t, err)

	// Inserted out of order, e.g. a late device sync.
	_, err = m.UpdateWorkOrder(ctx, o, []model.Event{
		{Kind: model.EventDeparted, TS: base.Add(time.Hour)},
		{Kind: model.EventArrived, TS: base},
	})
	require.NoError(t, err)

	got, err := m.GetWorkOrder(ctx, o.ID)
	require.NoError(t, err)
	require.Equal(t, model.EventArrived, got.Events[0].Kind)
	require.Equal(t, model.EventDeparted, got.Events[1].Kind)
}

func TestMemoryListWorkOrdersFilters(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	day1 := time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)

	mk := func(tech, status string, at time.Time) {
		_, err := m.CreateWorkOrder(ctx, model.WorkOrder{
			TechnicianID: tech, Status: status, ScheduledAt: at, Kind: model.KindPreventive,
		})
		require.NoError(t, err)
	}
	mk("tech1", model.StatusScheduled, day1)
	mk("tech1", model.StatusCancelled, day1)
	mk("tech2", model.StatusScheduled, day1)
	mk("tech1", model.StatusScheduled, day2)

	got, err := m.ListWorkOrders(ctx, OrderFilter{TechnicianID: "tech1", Day: day1})
	require.NoError(t, err)
	require.Len(t, got, 2)

	got, err = m.ListWorkOrders(ctx, OrderFilter{TechnicianID: "tech1", Status: model.StatusScheduled, Day: day1})
	require.NoError(t, err)
	require.Len(t, got, 1)

	got, err = m.ListWorkOrders(ctx, OrderFilter{})
	require.NoError(t, err)
	require.Len(t, got, 4)
}

func TestValidateBuilding(t *testing.T) {
	ok := model.Building{Windows: []model.AttendanceWindow{{Weekdays: []int{1, 5}, StartMin: 9 * 60, EndMin: 18 * 60}}}
	require.NoError(t, ValidateBuilding(ok))

	backwards := model.Building{Windows: []model.AttendanceWindow{{StartMin: 600, EndMin: 500}}}
	require.Error(t, ValidateBuilding(backwards))

	badDay := model.Building{Windows: []model.AttendanceWindow{{Weekdays: []int{7}, StartMin: 0, EndMin: 60}}}
	require.Error(t, ValidateBuilding(badDay))
}

func TestValidateTemplate(t *testing.T) {
	require.NoError(t, ValidateTemplate(model.ChecklistTemplate{
		Items: []model.ChecklistItem{{ID: "a"}, {ID: "b"}},
	}))
	require.Error(t, ValidateTemplate(model.ChecklistTemplate{
		Items: []model.ChecklistItem{{ID: "a"}, {ID: "a"}},
	}))
	require.Error(t, ValidateTemplate(model.ChecklistTemplate{
		Items: []model.ChecklistItem{{ID: ""}},
	}))
}
