package store

import (
	"encoding/csv"
	"errors"
	"io"
	"os"
	"strconv"

	"github.com/seenimoa/openedgar/pkg/models"
)

var companiesHeader = []string{"cik", "ticker", "title", "sic_code"}

// LoadCompanies reads the cached company list for a SIC code. The
// cache has no TTL; deleting the file forces a fresh lookup.
func (s *FileStore) LoadCompanies(sic int) ([]models.Company, bool, error) {
	f, err := os.Open(s.companiesPath(sic))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &PersistenceError{Op: "open company cache", Err: err}
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(companiesHeader)

	var companies []models.Company
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, &PersistenceError{Op: "read company cache", Err: err}
		}
		if row[0] == companiesHeader[0] {
			continue // header
		}
		code, _ := strconv.Atoi(row[3])
		companies = append(companies, models.Company{
			CIK:     row[0],
			Ticker:  row[1],
			Title:   row[2],
			SICCode: code,
		})
	}
	return companies, true, nil
}

// SaveCompanies writes the SIC's company cache atomically.
func (s *FileStore) SaveCompanies(sic int, companies []models.Company) error {
	err := writeFileAtomic(s.companiesPath(sic), func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write(companiesHeader); err != nil {
			return err
		}
		for _, c := range companies {
			row := []string{c.CIK, c.Ticker, c.Title, strconv.Itoa(c.SICCode)}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	})
	if err != nil {
		return &PersistenceError{Op: "write company cache", Err: err}
	}
	return nil
}
