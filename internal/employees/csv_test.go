package employees

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"attendance-ingest/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/unicode"
)

type memLinker struct {
	links []storage.Employee
}

func (m *memLinker) LinkEmployee(_ context.Context, e storage.Employee) error {
	m.links = append(m.links, e)
	return nil
}

func TestReadLinks_CommaSeparated(t *testing.T) {
	body := "Employee ID,Biometric ID,Name\nE1,42,Ada\nE2,,Missing\nE3,0043,\"Grace, H\"\n"
	links, skipped, err := ReadLinks(strings.NewReader(body), "acme")
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	require.Len(t, links, 2)
	assert.Equal(t, storage.Employee{ID: "E1", CompanyID: "acme", BiometricID: "42", Name: "Ada"}, links[0])
	assert.Equal(t, "0043", links[1].BiometricID)
	assert.Equal(t, "Grace, H", links[1].Name)
}

func TestReadLinks_UTF16WithBOM(t *testing.T) {
	body := "HENKILÖNUMERO\tBIOMETRINEN TUNNISTE\tNIMI\nH1\t7\tÄijä\n"
	var buf bytes.Buffer
	enc := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder()
	encoded, err := enc.Bytes([]byte(body))
	require.NoError(t, err)
	buf.Write(encoded)

	links, _, err := ReadLinks(&buf, "acme")
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "7", links[0].BiometricID)
	assert.Equal(t, "Äijä", links[0].Name)
}

func TestReadLinks_MissingHeaders(t *testing.T) {
	_, _, err := ReadLinks(strings.NewReader("email,status\na@b,1\n"), "acme")
	assert.ErrorIs(t, err, ErrMissingFields)
}

func TestImportFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "staff.csv")
	require.NoError(t, os.WriteFile(path, []byte("\xef\xbb\xbfEMPLOYEE ID;BIOMETRIC ID\nE1;42\nE2;43\n"), 0o600))

	linker := &memLinker{}
	summary, err := ImportFile(context.Background(), linker, path, "acme")
	require.NoError(t, err)
	assert.Equal(t, Summary{Linked: 2}, summary)
	assert.Equal(t, "43", linker.links[1].BiometricID)
}
