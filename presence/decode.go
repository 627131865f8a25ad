package presence

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

// ErrMalformed is returned for payloads that are not presence data.
var ErrMalformed = errors.New("malformed presence payload")

// DecodeUpdate parses a single presence_updated payload. Status fields with
// unknown values are dropped so the rest of the update still applies.
func DecodeUpdate(raw []byte) (Update, error) {
	if !gjson.ValidBytes(raw) {
		return Update{}, fmt.Errorf("%w: invalid JSON", ErrMalformed)
	}
	return decodeResult(gjson.ParseBytes(raw), "")
}

// DecodeSnapshot parses a bulk snapshot. It accepts an array of records,
// an object keyed by user id, or either of those wrapped in a "data" or
// "presences" member. Records that cannot be decoded are skipped.
func DecodeSnapshot(raw []byte) ([]Update, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrMalformed)
	}
	root := gjson.ParseBytes(raw)
	for _, wrapper := range []string{"data", "presences"} {
		if inner := root.Get(wrapper); inner.IsArray() || inner.IsObject() {
			root = inner
			break
		}
	}

	var out []Update
	collect := func(k, v gjson.Result) bool {
		u, err := decodeResult(v, k.String())
		if err != nil {
			log.Warn().Err(err).Str("key", k.String()).Msg("Skipping presence record in snapshot")
			return true
		}
		out = append(out, u)
		return true
	}
	switch {
	case root.IsArray():
		// array keys are indexes, never user ids
		root.ForEach(func(_, v gjson.Result) bool { return collect(gjson.Result{}, v) })
	case root.IsObject():
		root.ForEach(collect)
	default:
		return nil, fmt.Errorf("%w: snapshot must be an array or object", ErrMalformed)
	}
	return out, nil
}

func decodeResult(v gjson.Result, fallbackID string) (Update, error) {
	if !v.IsObject() {
		return Update{}, fmt.Errorf("%w: record must be an object", ErrMalformed)
	}
	u := Update{UserID: firstString(v, "userId", "user_id", "id")}
	if u.UserID == "" {
		u.UserID = fallbackID
	}
	if u.UserID == "" {
		return Update{}, fmt.Errorf("%w: missing user id", ErrMalformed)
	}

	if f := v.Get("status"); f.Exists() && f.Type != gjson.Null {
		if st, err := ParseStatus(f.String()); err != nil {
			dropField(u.UserID, "status", err)
		} else {
			u.Status = &st
		}
	}
	if f := v.Get("statusSource"); f.Exists() && f.Type != gjson.Null {
		if src, err := ParseSource(f.String()); err != nil {
			dropField(u.UserID, "statusSource", err)
		} else {
			u.StatusSource = &src
		}
	}
	if f := v.Get("manualStatus"); f.Exists() {
		if f.Type == gjson.Null {
			u.Cleared |= FieldManualStatus
		} else if st, err := ParseStatus(f.String()); err != nil {
			dropField(u.UserID, "manualStatus", err)
		} else {
			u.ManualStatus = &st
		}
	}
	u.CustomStatus = nullableString(v.Get("customStatus"), &u.Cleared, FieldCustomStatus)
	u.ManualCustomStatus = nullableString(v.Get("manualCustomStatus"), &u.Cleared, FieldManualCustomStatus)

	var err error
	if u.LastSeenAt, err = parseTime(v.Get("lastSeenAt")); err != nil {
		return Update{}, err
	}
	if u.Timestamp, err = parseTime(v.Get("timestamp")); err != nil {
		return Update{}, err
	}
	return u, nil
}

func dropField(userID, field string, err error) {
	log.Warn().Err(err).Str("user_id", userID).Str("field", field).Msg("Dropping unknown presence value")
}

func firstString(v gjson.Result, paths ...string) string {
	for _, p := range paths {
		if s := v.Get(p); s.Exists() && s.Type != gjson.Null && s.String() != "" {
			return s.String()
		}
	}
	return ""
}

func nullableString(f gjson.Result, cleared *Fields, field Fields) *string {
	if !f.Exists() {
		return nil
	}
	if f.Type == gjson.Null {
		*cleared |= field
		return nil
	}
	s := f.String()
	return &s
}

// parseTime accepts RFC 3339 strings and epoch milliseconds.
func parseTime(f gjson.Result) (*time.Time, error) {
	switch f.Type {
	case gjson.Null:
		return nil, nil
	case gjson.Number:
		t := time.UnixMilli(f.Int()).UTC()
		return &t, nil
	case gjson.String:
		t, err := time.Parse(time.RFC3339Nano, f.String())
		if err != nil {
			return nil, fmt.Errorf("%w: bad timestamp %q", ErrMalformed, f.String())
		}
		return &t, nil
	default:
		return nil, fmt.Errorf("%w: bad timestamp %s", ErrMalformed, f.Raw)
	}
}
