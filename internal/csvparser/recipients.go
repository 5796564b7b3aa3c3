package csvparser

import (
	"encoding/csv"
	"io"
	"strings"

	"MailScheduler/internal/errors"
	"MailScheduler/internal/models"
)

// DefaultMaxRows applies when ParseRecipients is given maxRows <= 0.
const DefaultMaxRows = 1000

// nameColumns are the headers accepted for the recipient display name, in
// order of preference.
var nameColumns = []string{"username", "name"}

// ParseRecipients parses a CSV with a header row. The "Email" column
// (case-insensitive) is required; a "Username" or "Name" column, when
// present, supplies the display name. Non-empty values of the remaining
// columns become the recipient's merge fields, keyed by lower-cased header.
//
// maxRows limits how many data rows are parsed (excluding header).
func ParseRecipients(r io.Reader, maxRows int) ([]models.Recipient, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	headers, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, errors.New("csv is empty")
		}
		return nil, errors.Wrap(err, "read csv header")
	}

	emailIdx, nameIdx := -1, -1
	namePref := len(nameColumns)
	for i, h := range headers {
		h = strings.TrimSpace(h)
		if strings.EqualFold(h, "email") {
			emailIdx = i
			continue
		}
		for p, col := range nameColumns {
			if strings.EqualFold(h, col) && p < namePref {
				nameIdx, namePref = i, p
			}
		}
	}
	if emailIdx == -1 {
		return nil, errors.New("csv must contain an Email column")
	}

	fieldKeys := make(map[int]string)
	for i, h := range headers {
		key := strings.ToLower(strings.TrimSpace(h))
		if i == emailIdx || i == nameIdx || key == "" {
			continue
		}
		fieldKeys[i] = key
	}

	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}

	recipients := make([]models.Recipient, 0)
	for len(recipients) < maxRows {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// skip malformed row
			if errors.Is(err, csv.ErrFieldCount) {
				continue
			}
			return nil, errors.Wrap(err, "read csv row")
		}

		email := strings.TrimSpace(record[emailIdx])
		if email == "" {
			continue
		}

		rec := models.Recipient{Email: email}
		if nameIdx >= 0 {
			rec.Username = strings.TrimSpace(record[nameIdx])
		}
		for i, key := range fieldKeys {
			v := strings.TrimSpace(record[i])
			if v == "" {
				continue
			}
			if rec.Fields == nil {
				rec.Fields = make(map[string]string, len(fieldKeys))
			}
			rec.Fields[key] = v
		}
		recipients = append(recipients, rec)
	}

	if len(recipients) == 0 {
		return nil, errors.New("csv must contain at least one data row")
	}

	return recipients, nil
}
