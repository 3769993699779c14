package license

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// fakeRegistries serves PyPI, Maven search and Maven repo responses
func fakeRegistries(t *testing.T, hits *int32) *Checker {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/pypi/requests/json", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		w.Write([]byte(`{"info": {"version": "2.32.3", "license": "Apache-2.0", "classifiers": []}}`))
	})
	mux.HandleFunc("/pypi/PyYAML/json", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		w.Write([]byte(`{"info": {"version": "6.0.2", "license": "", "classifiers": ["Programming Language :: Python", "License :: OSI Approved :: MIT License"]}}`))
	})
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		if strings.Contains(r.URL.Query().Get("q"), "gson") {
			w.Write([]byte(`{"response": {"docs": [{"latestVersion": "2.11.0"}]}}`))
			return
		}
		w.Write([]byte(`{"response": {"docs": []}}`))
	})
	mux.HandleFunc("/maven2/com/google/code/gson/gson/2.11.0/gson-2.11.0.pom", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		w.Write([]byte(`<project><licenses><license><name>Apache-2.0</name></license></licenses></project>`))
	})
	mux.HandleFunc("/maven2/org/hibernate/hibernate-core/6.4.0/hibernate-core-6.4.0.pom", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		w.Write([]byte(`<project xmlns="http://maven.apache.org/POM/4.0.0"><licenses><license><name>GNU Lesser General Public License</name></license></licenses></project>`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := NewChecker()
	c.PyPIURL = srv.URL + "/pypi"
	c.MavenSearchURL = srv.URL + "/search"
	c.MavenRepoURL = srv.URL + "/maven2"
	return c
}

func TestRateLicense(t *testing.T) {
	testCases := []struct {
		license string
		want    string
	}{
		{"MIT License", RatingPermissive},
		{"BSD-3-Clause", RatingPermissive},
		{"Apache Software License", RatingPermissive},
		{"LGPL-2.1", RatingWeakCopyleft},
		{"Mozilla Public License 2.0 (MPL 2.0)", RatingWeakCopyleft},
		{"GPLv3", RatingStrongCopyleft},
		{"GNU Affero General Public License v3", RatingStrongCopyleft},
		{"Unknown", RatingUnknown},
		{"", RatingUnknown},
		{"Proprietary", RatingUnknown},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, RateLicense(tc.license), tc.license)
	}
}

func TestPythonPackages(t *testing.T) {
	path := writeFile(t, "app.py", `import os
import requests
import yaml
from requests.adapters import HTTPAdapter
from . import local
from bs4 import BeautifulSoup
`)
	pkgs, err := PythonPackages(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"requests", "PyYAML", "beautifulsoup4"}, pkgs)
}

func TestMavenCoordinates_LongestPrefix(t *testing.T) {
	g, a, ok := mavenCoordinates("org.junit.jupiter.api.Test")
	require.True(t, ok)
	assert.Equal(t, "org.junit.jupiter", g)
	assert.Equal(t, "junit-jupiter-api", a)

	g, a, ok = mavenCoordinates("org.junit.Assert")
	require.True(t, ok)
	assert.Equal(t, "junit:junit", g+":"+a)

	_, _, ok = mavenCoordinates("com.acme.internal.Thing")
	assert.False(t, ok)
}

func TestCheck_Python(t *testing.T) {
	var hits int32
	c := fakeRegistries(t, &hits)
	path := writeFile(t, "app.py", "import yaml\nimport requests\nimport requests.auth\n")

	entries, err := c.Check(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []Entry{
		{Name: "PyYAML", Version: "6.0.2", License: "MIT License", Rating: RatingPermissive},
		{Name: "requests", Version: "2.32.3", License: "Apache-2.0", Rating: RatingPermissive},
	}, entries)

	// second run is served from the cache
	before := atomic.LoadInt32(&hits)
	_, err = c.Check(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, before, atomic.LoadInt32(&hits))
}

func TestCheck_Java(t *testing.T) {
	var hits int32
	c := fakeRegistries(t, &hits)
	path := writeFile(t, "Main.java", `import java.util.List;
import com.google.gson.Gson;
import com.acme.Widget;

public class Main {}
`)
	entries, err := c.Check(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, Entry{Name: "com.acme.Widget", Version: "?", License: "Unknown", Rating: RatingUnknown}, entries[0])
	assert.Equal(t, Entry{Name: "com.google.code.gson:gson", Version: "2.11.0", License: "Apache-2.0", Rating: RatingPermissive}, entries[1])
}

func TestCheck_POM(t *testing.T) {
	var hits int32
	c := fakeRegistries(t, &hits)
	path := writeFile(t, "pom.xml", `<?xml version="1.0"?>
<project xmlns="http://maven.apache.org/POM/4.0.0">
  <dependencies>
    <dependency><groupId>org.hibernate</groupId><artifactId>hibernate-core</artifactId><version>6.4.0</version></dependency>
    <dependency><groupId>com.google.code.gson</groupId><artifactId>gson</artifactId><version>${gson.version}</version></dependency>
    <dependency><groupId>com.acme</groupId><artifactId>ghost</artifactId></dependency>
  </dependencies>
</project>`)

	entries, err := c.Check(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []Entry{
		{Name: "com.acme:ghost", Version: "?", License: "Unknown", Rating: RatingUnknown},
		{Name: "com.google.code.gson:gson", Version: "2.11.0", License: "Apache-2.0", Rating: RatingPermissive},
		{Name: "org.hibernate:hibernate-core", Version: "6.4.0", License: "GNU Lesser General Public License", Rating: RatingWeakCopyleft},
	}, entries)
}

func TestParseRequirements(t *testing.T) {
	path := writeFile(t, "requirements.txt", `# runtime
requests==2.31.0
PyYAML>=6.0
uvicorn[standard]==0.30.1 ; python_version >= "3.9"
-r base.txt
-e git+https://github.com/acme/tool.git#egg=tool
https://example.com/pkg.tar.gz
requests==2.0
`)
	reqs, err := ParseRequirements(path)
	require.NoError(t, err)
	assert.Equal(t, []Requirement{
		{Name: "requests", Version: "2.31.0"},
		{Name: "PyYAML"},
		{Name: "uvicorn", Version: "0.30.1"},
	}, reqs)
}

func TestCheck_Requirements(t *testing.T) {
	var hits int32
	c := fakeRegistries(t, &hits)
	path := writeFile(t, "requirements.txt", "requests==2.31.0\nPyYAML\n")

	entries, err := c.Check(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []Entry{
		{Name: "PyYAML", Version: "6.0.2", License: "MIT License", Rating: RatingPermissive},
		{Name: "requests", Version: "2.31.0", License: "Apache-2.0", Rating: RatingPermissive},
	}, entries)
}

func TestCheck_Unsupported(t *testing.T) {
	c := NewChecker()

	_, err := c.Check(context.Background(), writeFile(t, "build.gradle", "plugins {}"))
	assert.ErrorIs(t, err, ErrGradleNotImplemented)

	_, err = c.Check(context.Background(), writeFile(t, "config.xml", "<a/>"))
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = c.Check(context.Background(), writeFile(t, "notes.txt", "hello"))
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = c.Check(context.Background(), filepath.Join(t.TempDir(), "missing.py"))
	assert.Error(t, err)
}

func TestFormatReportAndExport(t *testing.T) {
	entries := []Entry{{Name: "requests", Version: "2.32.3", License: "Apache-2.0", Rating: RatingPermissive}}

	report := FormatReport(entries)
	assert.Contains(t, report, "Package")
	assert.Contains(t, report, "requests")
	assert.Equal(t, "No packages found in the file.", FormatReport(nil))

	var buf bytes.Buffer
	require.NoError(t, WriteWorkbook(Rows(entries), &buf))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	assert.Equal(t, [][]string{Columns, {"requests", "2.32.3", "Apache-2.0", RatingPermissive}}, rows)
}
