package db

import (
	"time"

	"github.com/google/uuid"
)

// Firestore field names shared by device and user documents
const (
	FieldOwner        = "owner"
	FieldPesoState    = "pesoState"
	FieldPesoSum      = "pesoSum"
	FieldDays         = "days"
	FieldDayName      = "dayName"
	FieldMonth        = "month"
	FieldMonthName    = "monthName"
	FieldMonthlyReset = "monthlyReset"
	FieldKWhToPeso    = "kWhToPeso"
)

// Series is the daily and monthly history kept on devices and users.
// Days/DayName and Month/MonthName are parallel.
type Series struct {
	Days      []float64
	DayName   []string
	Month     []float64
	MonthName []string
}

// Device represents a metered device document
type Device struct {
	ID              string
	OwnerID         string
	PesoState       float64
	MonthlyResetDay *int
	Series
	// SeriesErr is set when the stored history could not be decoded; Series
	// is then empty and must not be written back.
	SeriesErr error
}

// User represents a user document with its per-run accumulators.
// DaysSum and MonthSum are never read from or written to the store as such.
type User struct {
	ID              string
	MonthlyResetDay *int
	Series
	SeriesErr error

	DaysSum  float64
	MonthSum float64
}

// RunRecord represents one daily rollup cycle in the run history
type RunRecord struct {
	ID         uuid.UUID
	RunDate    time.Time
	StartedAt  time.Time
	FinishedAt time.Time
	Devices    int
	Users      int
	Failures   int
	Status     string
}

// Run statuses
const (
	RunStatusSucceeded = "succeeded"
	RunStatusPartial   = "partial"
	RunStatusFailed    = "failed"
)
