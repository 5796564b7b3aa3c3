package csvparser

import (
	"os"

	"MailScheduler/internal/errors"
	"MailScheduler/internal/models"
)

// ParseFile reads recipients from the CSV file at path.
func ParseFile(path string, maxRows int) ([]models.Recipient, error) {

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	recipients, err := ParseRecipients(f, maxRows)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	return recipients, nil
}
