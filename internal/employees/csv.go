// Package employees imports the links between HR employees and the ids
// biometric readers emit.
package employees

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"attendance-ingest/internal/storage"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var ErrMissingFields = errors.New("CSV file missing required fields")

// Definition of fields in an employee export
type ListDefinition struct {
	EmployeeField  string
	BiometricField string
	NameField      string

	Language string
}

// Known header names of HR exports, matched case-insensitively.
var ListDefinitions = []ListDefinition{
	{
		EmployeeField:  "EMPLOYEE ID",
		BiometricField: "BIOMETRIC ID",
		NameField:      "NAME",
		Language:       "en",
	},
	{
		EmployeeField:  "HENKILÖNUMERO",
		BiometricField: "BIOMETRINEN TUNNISTE",
		NameField:      "NIMI",
		Language:       "fi",
	},
}

// Linker stores employee links.
type Linker interface {
	LinkEmployee(ctx context.Context, employee storage.Employee) error
}

type Summary struct {
	Linked  int
	Skipped int
}

// decodedReader undoes UTF-16 (HR exports ship it with a BOM) and
// strips a UTF-8 BOM.
func decodedReader(r io.Reader) (io.Reader, error) {
	br := bufio.NewReader(r)
	bom, err := br.Peek(2)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, fmt.Errorf("failed to read BOM: %w", err)
	}
	if len(bom) == 2 && (bom[0] == 0xFE && bom[1] == 0xFF || bom[0] == 0xFF && bom[1] == 0xFE) {
		utf16bom := unicode.BOMOverride(unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder())
		return transform.NewReader(br, utf16bom), nil
	}
	return transform.NewReader(br, unicode.BOMOverride(unicode.UTF8.NewDecoder())), nil
}

// ReadLinks parses a tab or comma separated export. Rows without both
// ids are skipped.
func ReadLinks(r io.Reader, companyID string) ([]storage.Employee, int, error) {
	decoded, err := decodedReader(r)
	if err != nil {
		return nil, 0, err
	}
	br := bufio.NewReader(decoded)

	headerLine, err := br.ReadString('\n')
	if err != nil && err != io.EOF {
		return nil, 0, fmt.Errorf("failed to read CSV header: %w", err)
	}
	comma := ','
	if strings.Contains(headerLine, "\t") {
		comma = '\t'
	} else if strings.Count(headerLine, ";") > strings.Count(headerLine, ",") {
		comma = ';'
	}

	reader := csv.NewReader(io.MultiReader(strings.NewReader(headerLine), br))
	reader.Comma = comma
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	headers, err := reader.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read CSV header: %w", err)
	}

	idxEmployee, idxBiometric, idxName := -1, -1, -1
	var def ListDefinition
	for _, def = range ListDefinitions {
		idxEmployee, idxBiometric, idxName = -1, -1, -1
		for i, h := range headers {
			switch strings.ToUpper(strings.TrimSpace(h)) {
			case def.EmployeeField:
				idxEmployee = i
			case def.BiometricField:
				idxBiometric = i
			case def.NameField:
				idxName = i
			}
		}
		if idxEmployee != -1 && idxBiometric != -1 {
			break
		}
	}
	if idxEmployee == -1 || idxBiometric == -1 {
		return nil, 0, ErrMissingFields
	}
	slog.Debug("Matched employee list definition", "language", def.Language)

	field := func(record []string, i int) string {
		if i < 0 || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var (
		links   []storage.Employee
		skipped int
	)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("error reading CSV: %w", err)
		}
		employee, biometric := field(record, idxEmployee), field(record, idxBiometric)
		if employee == "" || biometric == "" {
			skipped++
			continue
		}
		links = append(links, storage.Employee{
			ID:          employee,
			CompanyID:   companyID,
			BiometricID: biometric,
			Name:        field(record, idxName),
		})
	}
	return links, skipped, nil
}

// Import links every employee in r to companyID.
func Import(ctx context.Context, linker Linker, r io.Reader, companyID string) (Summary, error) {
	links, skipped, err := ReadLinks(r, companyID)
	if err != nil {
		return Summary{}, err
	}
	summary := Summary{Skipped: skipped}
	for _, e := range links {
		if err := linker.LinkEmployee(ctx, e); err != nil {
			return summary, fmt.Errorf("linking employee %s: %w", e.ID, err)
		}
		summary.Linked++
	}
	slog.Info("Imported employee links", "company_id", companyID, "linked", summary.Linked, "skipped", summary.Skipped)
	return summary, nil
}

func ImportFile(ctx context.Context, linker Linker, path string, companyID string) (Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer f.Close()
	return Import(ctx, linker, f, companyID)
}
