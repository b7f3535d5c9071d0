package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWeekdayCalendar(t *testing.T) {
	calendar := NewWeekdayCalendar([]string{"2026-01-01", " 2026-02-17 ", "not-a-date"})

	t.Run("weekday", func(t *testing.T) {
		monday := time.Date(2026, 1, 5, 10, 0, 0, 0, time.Local)
		require.True(t, calendar.IsTradingDay(monday))
	})

	t.Run("weekend", func(t *testing.T) {
		saturday := time.Date(2026, 1, 3, 10, 0, 0, 0, time.Local)
		sunday := time.Date(2026, 1, 4, 10, 0, 0, 0, time.Local)
		require.False(t, calendar.IsTradingDay(saturday))
		require.False(t, calendar.IsTradingDay(sunday))
	})

	t.Run("holiday", func(t *testing.T) {
		newYear := time.Date(2026, 1, 1, 10, 0, 0, 0, time.Local)
		require.False(t, calendar.IsTradingDay(newYear))
	})

	t.Run("trimmed holiday", func(t *testing.T) {
		holiday := time.Date(2026, 2, 17, 10, 0, 0, 0, time.Local)
		require.False(t, calendar.IsTradingDay(holiday))
	})

	t.Run("malformed entry ignored", func(t *testing.T) {
		tuesday := time.Date(2026, 1, 6, 10, 0, 0, 0, time.Local)
		require.True(t, calendar.IsTradingDay(tuesday))
	})
}

func TestQRLoginRegistry(t *testing.T) {
	registry := NewQRLoginRegistry()
	qr := &fakeQRLogin{id: "qr-1", image: "img"}

	registry.Put(qr, 7, "acc-1")

	got, userID, accountID := registry.Get("qr-1")
	require.NotNil(t, got)
	require.Equal(t, uint(7), userID)
	require.Equal(t, "acc-1", accountID)

	got, _, _ = registry.Get("qr-unknown")
	require.Nil(t, got)

	registry.Remove("qr-1")
	got, _, _ = registry.Get("qr-1")
	require.Nil(t, got)
}
