package commands

import (
	"net/mail"
	"regexp"
	"strconv"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/splitledger/internal/apperr"
	"github.com/google/uuid"
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// fields reads typed values out of a record and collects field-annotated errors.
type fields struct {
	rec  Record
	errs []string
}

func newFields(rec Record) *fields {
	return &fields{rec: rec}
}

func (f *fields) fail(column, msg string) {
	f.errs = append(f.errs, column+": "+msg)
}

func (f *fields) text(column string, required bool) string {
	v := f.rec.Get(column)
	if v == "" && required {
		f.fail(column, "Required")
	}
	return v
}

func (f *fields) uuid(column string, required bool) string {
	v := f.rec.Get(column)
	if v == "" {
		if required {
			f.fail(column, "Required")
		}
		return ""
	}
	if _, err := uuid.Parse(v); err != nil {
		f.fail(column, "Invalid uuid")
		return ""
	}
	return v
}

// uuidList splits a ';' or ',' separated list of UUIDs. Empty entries are ignored.
func (f *fields) uuidList(column string) []string {
	v := f.rec.Get(column)
	if v == "" {
		return nil
	}
	parts := strings.FieldsFunc(v, func(r rune) bool { return r == ';' || r == ',' })
	ids := make([]string, 0, len(parts))
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, err := uuid.Parse(p); err != nil {
			f.fail(column+"."+strconv.Itoa(i), "Invalid uuid")
			continue
		}
		ids = append(ids, p)
	}
	return ids
}

func (f *fields) positiveAmount(column string) int64 {
	v := f.rec.Get(column)
	if v == "" {
		f.fail(column, "Required")
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		f.fail(column, "Expected integer amount in minor units, received "+strconv.Quote(v))
		return 0
	}
	if n <= 0 {
		f.fail(column, "Amount must be positive")
		return 0
	}
	return n
}

// currency returns the upper-cased currency, or def when the column is blank.
func (f *fields) currency(column, def string, uppercase bool) string {
	v := f.rec.Get(column)
	if v == "" {
		return def
	}
	if uppercase {
		v = strings.ToUpper(v)
	}
	if !currencyPattern.MatchString(v) {
		f.fail(column, "Currency must be a 3-letter uppercase code")
		return ""
	}
	return v
}

func (f *fields) date(column string, required bool) civil.Date {
	v := f.rec.Get(column)
	if v == "" {
		if required {
			f.fail(column, "Required")
		}
		return civil.Date{}
	}
	d, err := civil.ParseDate(v)
	if err != nil || !d.IsValid() {
		f.fail(column, "Invalid date format. Expected format: YYYY-MM-DD")
		return civil.Date{}
	}
	return d
}

func (f *fields) email(column string) string {
	v := f.rec.Get(column)
	if v == "" {
		f.fail(column, "Required")
		return ""
	}
	addr, err := mail.ParseAddress(v)
	if err != nil || addr.Address != v {
		f.fail(column, "Invalid email address")
		return ""
	}
	return v
}

// err returns a bad request listing every collected problem, or nil.
func (f *fields) err(t Type) error {
	if len(f.errs) == 0 {
		return nil
	}
	return apperr.BadRequest("Invalid %s command data in CSV row. Errors: %s", t, strings.Join(f.errs, "; "))
}
