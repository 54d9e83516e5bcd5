// Package rollup computes the daily and monthly usage rollup for devices and
// their owners.
//
// Each device is mapped to a DevicePlan independently: the merge write for
// the device and its contribution to the owner's accumulators. Contributions
// are then folded into the users in a single pass before any user write is
// planned, so no two tasks ever share an accumulator.
//
// Rollover fires when yesterday's day of month equals the configured reset
// day, i.e. the day after the reset day.
package rollup

import (
	"sort"
	"strconv"
	"time"

	"github.com/septivank/usage-rollup-worker/internal/db"
	"github.com/septivank/usage-rollup-worker/internal/repository"
)

// DevicePlan is the outcome of processing one device
type DevicePlan struct {
	DeviceID string
	OwnerID  string
	Rollover bool
	// DaysContribution is added to the owner's DaysSum
	DaysContribution float64
	// MonthContribution is added to the owner's MonthSum
	MonthContribution float64
	Patch             repository.Patch
}

// UserPlan is the merge write for one user
type UserPlan struct {
	UserID   string
	Rollover bool
	Patch    repository.Patch
}

// Cycle is the full set of writes for one run
type Cycle struct {
	Devices []DevicePlan
	Users   []UserPlan
	// Orphans are devices whose owner is not among the users; they are
	// skipped entirely.
	Orphans []db.Device
	// InvalidDevices and InvalidUsers have a stored history that could not
	// be decoded. They get no write and devices contribute nothing.
	InvalidDevices []db.Device
	InvalidUsers   []*db.User
}

// ShouldRollover reports whether yesterday's day of month is resetDay.
// A nil resetDay never rolls over.
func ShouldRollover(now time.Time, resetDay *int) bool {
	if resetDay == nil {
		return false
	}
	return now.AddDate(0, 0, -1).Day() == *resetDay
}

// DayLabel is the label appended to dayName
func DayLabel(now time.Time) string {
	return strconv.Itoa(now.Day())
}

// MonthLabel is the label appended to monthName
func MonthLabel(now time.Time) string {
	return now.Format("Jan")
}

// PlanDevice maps one device to its write and owner contribution
func PlanDevice(device db.Device, now time.Time) DevicePlan {
	plan := DevicePlan{
		DeviceID: device.ID,
		OwnerID:  device.OwnerID,
	}

	if ShouldRollover(now, device.MonthlyResetDay) {
		monthly := sum(device.Days)
		plan.Rollover = true
		plan.MonthContribution = monthly
		plan.Patch.AppendField(db.FieldMonth, monthly)
		plan.Patch.AppendField(db.FieldMonthName, MonthLabel(now))
		plan.Patch.SetField(db.FieldDays, []interface{}{})
		plan.Patch.SetField(db.FieldDayName, []interface{}{})
		return plan
	}

	plan.DaysContribution = device.PesoState
	plan.Patch.AppendField(db.FieldDays, device.PesoState)
	plan.Patch.AppendField(db.FieldDayName, DayLabel(now))
	return plan
}

// Reduce folds device contributions into the owners' accumulators. It must
// run single-threaded.
func Reduce(users map[string]*db.User, plans []DevicePlan) {
	for _, plan := range plans {
		user, ok := users[plan.OwnerID]
		if !ok {
			continue
		}
		user.DaysSum += plan.DaysContribution
		user.MonthSum += plan.MonthContribution
	}
}

// PlanUser builds the write for one user from its accumulators. Every user
// gets a daily entry, 0 when it owns no device.
func PlanUser(user *db.User, now time.Time) UserPlan {
	plan := UserPlan{UserID: user.ID}
	plan.Patch.AppendField(db.FieldDays, user.DaysSum)
	plan.Patch.AppendField(db.FieldDayName, DayLabel(now))

	if ShouldRollover(now, user.MonthlyResetDay) {
		plan.Rollover = true
		plan.Patch.AppendField(db.FieldMonth, user.MonthSum)
		plan.Patch.AppendField(db.FieldMonthName, MonthLabel(now))
	}
	return plan
}

// Plan computes the writes for a whole run. users' accumulators are updated
// in place.
func Plan(devices []db.Device, users map[string]*db.User, now time.Time) Cycle {
	var cycle Cycle

	for _, device := range devices {
		if _, ok := users[device.OwnerID]; !ok {
			cycle.Orphans = append(cycle.Orphans, device)
			continue
		}
		if device.SeriesErr != nil {
			cycle.InvalidDevices = append(cycle.InvalidDevices, device)
			continue
		}
		cycle.Devices = append(cycle.Devices, PlanDevice(device, now))
	}

	Reduce(users, cycle.Devices)

	ids := make([]string, 0, len(users))
	for id := range users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		user := users[id]
		if user.SeriesErr != nil {
			cycle.InvalidUsers = append(cycle.InvalidUsers, user)
			continue
		}
		cycle.Users = append(cycle.Users, PlanUser(user, now))
	}

	return cycle
}

func sum(values []float64) float64 {
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total
}
