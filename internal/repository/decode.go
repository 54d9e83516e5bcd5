package repository

import (
	"strings"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"

	"github.com/septivank/usage-rollup-worker/internal/db"
	"github.com/septivank/usage-rollup-worker/internal/validator"
)

// ownerID resolves the owner field, which is normally a document reference
// into the users collection.
func ownerID(raw interface{}) (string, bool) {
	switch v := raw.(type) {
	case *firestore.DocumentRef:
		if v == nil || v.ID == "" {
			return "", false
		}
		return v.ID, true
	case string:
		v = strings.TrimSpace(v)
		if i := strings.LastIndex(v, "/"); i >= 0 {
			v = v[i+1:]
		}
		return v, v != ""
	default:
		return "", false
	}
}

func decodeSeries(data map[string]interface{}) (db.Series, error) {
	var (
		s   db.Series
		err error
	)
	if s.Days, err = validator.ParseReadings(db.FieldDays, data[db.FieldDays]); err != nil {
		return s, err
	}
	if s.DayName, err = validator.ParseLabels(db.FieldDayName, data[db.FieldDayName]); err != nil {
		return s, err
	}
	if s.Month, err = validator.ParseReadings(db.FieldMonth, data[db.FieldMonth]); err != nil {
		return s, err
	}
	if s.MonthName, err = validator.ParseLabels(db.FieldMonthName, data[db.FieldMonthName]); err != nil {
		return s, err
	}
	return s, nil
}

// resetDay decodes monthlyReset. Unparseable values disable rollover for the
// document instead of failing the read.
func resetDay(logger *zap.Logger, id string, data map[string]interface{}) *int {
	day, err := validator.ParseResetDay(db.FieldMonthlyReset, data[db.FieldMonthlyReset])
	if err != nil {
		logger.Warn("invalid monthly reset day, rollover disabled",
			zap.String("id", id),
			zap.Error(err),
		)
		return nil
	}
	return day
}

// decodeDevice returns false for documents that are skipped: devices without
// an owner or with an unreadable reading. A device whose history cannot be
// decoded is kept with SeriesErr set, since its reading is still valid.
func decodeDevice(logger *zap.Logger, id string, data map[string]interface{}) (db.Device, bool) {
	owner, ok := ownerID(data[db.FieldOwner])
	if !ok {
		return db.Device{}, false
	}

	peso, err := validator.ParseReading(db.FieldPesoState, data[db.FieldPesoState])
	if err != nil {
		logger.Warn("skipping device with invalid reading", zap.String("device_id", id), zap.Error(err))
		return db.Device{}, false
	}

	series, seriesErr := decodeSeries(data)
	if seriesErr != nil {
		logger.Warn("device has invalid history", zap.String("device_id", id), zap.Error(seriesErr))
		series = db.Series{}
	}

	return db.Device{
		ID:              id,
		OwnerID:         owner,
		PesoState:       peso,
		MonthlyResetDay: resetDay(logger, id, data),
		Series:          series,
		SeriesErr:       seriesErr,
	}, true
}

// decodeUser keeps users with an undecodable history, with that history
// emptied and SeriesErr set. They still own devices but get no history write.
func decodeUser(logger *zap.Logger, id string, data map[string]interface{}) *db.User {
	series, seriesErr := decodeSeries(data)
	if seriesErr != nil {
		logger.Warn("user has invalid history", zap.String("user_id", id), zap.Error(seriesErr))
		series = db.Series{}
	}

	return &db.User{
		ID:              id,
		MonthlyResetDay: resetDay(logger, id, data),
		Series:          series,
		SeriesErr:       seriesErr,
		DaysSum:         0,
		MonthSum:        0,
	}
}
