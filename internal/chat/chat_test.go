package chat

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devguard/internal/config"
	"devguard/internal/registry"
	"devguard/internal/router"
	"devguard/internal/toolkit"
)

// fakeRouter routes by the first word of the prompt
type fakeRouter struct {
	err error
}

func (f fakeRouter) Route(_ context.Context, prompt string) (router.Decision, error) {
	if f.err != nil {
		return router.Decision{}, f.err
	}
	switch strings.Fields(prompt)[0] {
	case "license":
		return router.Decision{ToolID: "library_license_checker", Known: true, Via: "keyword"}, nil
	case "research":
		return router.Decision{ToolID: "deep_research", Known: true, Via: "keyword"}, nil
	case "broken":
		return router.Decision{ToolID: "broken_tool", Known: true, Via: "keyword"}, nil
	}
	return router.Decision{ToolID: "weather_checker", Known: false, Via: "llm"}, nil
}

func newAssistant(t *testing.T, rt Router) (*Assistant, string, *[]string) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.py"), []byte("import requests\n"), 0644))

	reg := registry.New()
	reg.Register(&registry.Tool{
		Metadata: registry.Metadata{Name: "library_license_checker", DisplayName: "Library License Checker", Input: registry.InputFile},
		Handler: func(_ context.Context, path string, _ registry.Options) (*registry.Result, error) {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, err
			}
			if strings.Contains(string(data), "boom") {
				return nil, errors.New("cannot parse")
			}
			return &registry.Result{Format: registry.FormatText, Text: "checked " + filepath.Base(path)}, nil
		},
	})
	reg.Register(&registry.Tool{
		Metadata: registry.Metadata{Name: "deep_research", DisplayName: "Deep Research", Input: registry.InputTopic},
		Handler: func(_ context.Context, _ string, opts registry.Options) (*registry.Result, error) {
			return &registry.Result{Format: registry.FormatMarkdown, Text: "# " + opts.Topic}, nil
		},
	})

	a := New(reg, rt, dir, nil)
	var seen []string
	a.OnResult = func(sessionID string, res *registry.Result) {
		seen = append(seen, sessionID+":"+res.ToolID)
	}
	return a, dir, &seen
}

func lastMessage(s *Session) Message {
	return s.History[len(s.History)-1]
}

func TestHandleMessage_RunsOnProjectFile(t *testing.T) {
	a, _, seen := newAssistant(t, fakeRouter{})

	s, err := a.HandleMessage(context.Background(), "s1", "license check app.py please")
	require.NoError(t, err)
	require.Len(t, s.History, 3)
	assert.Equal(t, RoleUser, s.History[0].Role)
	assert.Equal(t, "🔍 Matched tool: `library_license_checker`\n📄 Detected file: `app.py`\n\nRunning analysis...", s.History[1].Content)

	last := lastMessage(s)
	assert.Contains(t, last.Content, "🔧 Tool used: `library_license_checker`")
	require.NotNil(t, last.Result)
	assert.Equal(t, "checked app.py", last.Result.Text)
	assert.Equal(t, "app.py", last.Result.File)
	assert.Equal(t, "library_license_checker", s.LastTool)
	assert.Equal(t, "app.py", s.LastFile)
	assert.Empty(t, s.SelectedTool)
	assert.Equal(t, []string{"s1:library_license_checker"}, *seen)
}

func TestHandleMessage_MissingFile(t *testing.T) {
	a, dir, _ := newAssistant(t, fakeRouter{})

	s, err := a.HandleMessage(context.Background(), "s1", "license check other.py")
	require.NoError(t, err)
	assert.Equal(t, "⚠️ File `other.py` not found in `"+dir+"`. Please upload it below.", lastMessage(s).Content)
	assert.Equal(t, "library_license_checker", s.SelectedTool)

	s, err = a.HandleMessage(context.Background(), "s2", "license check ../../etc/passwd.py")
	require.NoError(t, err)
	assert.Contains(t, lastMessage(s).Content, "not found in")
	assert.Nil(t, s.LastResult, "paths outside the allowed dir are never run")
}

func TestHandleMessage_NoFile(t *testing.T) {
	a, _, _ := newAssistant(t, fakeRouter{})

	s, err := a.HandleMessage(context.Background(), "s1", "license check my dependencies")
	require.NoError(t, err)
	assert.Equal(t, "🔍 Matched tool: `library_license_checker`\n\n📎 Please upload your file below to continue.", lastMessage(s).Content)
	assert.Equal(t, "library_license_checker", s.SelectedTool)
}

func TestHandleMessage_UnknownTool(t *testing.T) {
	a, _, _ := newAssistant(t, fakeRouter{})

	s, err := a.HandleMessage(context.Background(), "s1", "what is the weather")
	require.NoError(t, err)
	assert.Equal(t, "❌ Sorry, I couldn't find a matching tool for: `weather_checker`", lastMessage(s).Content)

	s, err = a.HandleMessage(context.Background(), "s1", "broken tool")
	require.NoError(t, err)
	assert.Equal(t, "❌ Sorry, I couldn't find a matching tool for: `broken_tool`", lastMessage(s).Content)
	assert.Len(t, s.History, 4)
}

func TestHandleMessage_RouteErrors(t *testing.T) {
	a, _, _ := newAssistant(t, fakeRouter{err: router.ErrNoRoute})
	s, err := a.HandleMessage(context.Background(), "s1", "scan app.py for things")
	require.NoError(t, err)
	assert.Equal(t, "❌ Sorry, I couldn't find a matching tool for: `scan for things`", lastMessage(s).Content)

	a, _, _ = newAssistant(t, fakeRouter{err: errors.New("llm down")})
	s, err = a.HandleMessage(context.Background(), "s1", "anything")
	require.NoError(t, err)
	assert.Contains(t, lastMessage(s).Content, "llm down")

	_, err = a.HandleMessage(context.Background(), "s1", "   ")
	assert.Error(t, err)
}

func TestHandleMessage_ResearchUsesTopic(t *testing.T) {
	a, _, _ := newAssistant(t, fakeRouter{})

	s, err := a.HandleMessage(context.Background(), "s1", "research   go generics")
	require.NoError(t, err)
	last := lastMessage(s)
	require.NotNil(t, last.Result)
	assert.Equal(t, "# research go generics", last.Result.Text)
	assert.Equal(t, "deep_research", s.LastTool)
	assert.Empty(t, s.LastFile)
}

func TestHandleUploads(t *testing.T) {
	a, _, seen := newAssistant(t, fakeRouter{})

	_, _, err := a.HandleUploads(context.Background(), "s1", []Upload{{Name: "a.py", Content: strings.NewReader("x")}})
	assert.ErrorContains(t, err, "no tool selected")

	_, err = a.HandleMessage(context.Background(), "s1", "license check my deps")
	require.NoError(t, err)

	results, s, err := a.HandleUploads(context.Background(), "s1", []Upload{
		{Name: "pom.xml", Content: strings.NewReader("<project/>")},
		{Name: "bad.py", Content: strings.NewReader("boom")},
		{Name: "notes.txt", Content: strings.NewReader("x")},
		{Name: "dir/Main.java", Content: strings.NewReader("class Main {}")},
	})
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.Equal(t, "checked pom.xml", results[0].Result.Text, "uploads keep their base name")
	assert.Equal(t, "pom.xml", results[0].Result.File)
	assert.Empty(t, results[0].Error)

	assert.Equal(t, "⚠️ Error running tool on file `bad.py`: Library License Checker: cannot parse", results[1].Result.Text)
	assert.NotEmpty(t, results[1].Error)
	assert.Contains(t, results[2].Error, "unsupported file type")
	assert.Equal(t, "Main.java", results[3].File)

	assert.Empty(t, s.SelectedTool, "selection is reset")
	assert.Equal(t, "Main.java", s.LastFile)
	assert.Equal(t, "checked Main.java", s.LastResult.Text)
	assert.Equal(t, "### 📂 Results for `pom.xml`:", s.History[2].Content)
	assert.Len(t, *seen, 2)

	_, _, err = a.HandleUploads(context.Background(), "s1", nil)
	assert.Error(t, err)
}

func TestHandleUploads_POMWithToolkit(t *testing.T) {
	maven := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/maven2/org/hibernate/hibernate-core/6.4.0/hibernate-core-6.4.0.pom" {
			w.Write([]byte(`<project><licenses><license><name>GNU Lesser General Public License</name></license></licenses></project>`))
			return
		}
		http.NotFound(w, r)
	}))
	defer maven.Close()

	tk, err := toolkit.New(&config.Config{
		Router: config.RouterConfig{Provider: "openai", Model: "gpt-3.5-turbo", TokenBudget: 1000},
		PMD:    config.PMDConfig{Path: "pmd", Ruleset: "category/java/bestpractices.xml"},
	})
	require.NoError(t, err)
	tk.Licenses.MavenRepoURL = maven.URL + "/maven2"
	tk.Licenses.MavenSearchURL = maven.URL + "/search"
	reg, err := tk.Registry("")
	require.NoError(t, err)

	a := New(reg, fakeRouter{}, t.TempDir(), nil)
	_, err = a.HandleMessage(context.Background(), "s1", "license check my pom")
	require.NoError(t, err)

	pom := `<project><dependencies><dependency><groupId>org.hibernate</groupId><artifactId>hibernate-core</artifactId><version>6.4.0</version></dependency></dependencies></project>`
	results, _, err := a.HandleUploads(context.Background(), "s1", []Upload{{Name: "pom.xml", Content: strings.NewReader(pom)}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Empty(t, results[0].Error)
	require.Len(t, results[0].Result.Rows, 1)
	assert.Equal(t, "org.hibernate:hibernate-core", results[0].Result.Rows[0]["Package"])
	assert.Equal(t, "GNU Lesser General Public License", results[0].Result.Rows[0]["License"])
	assert.Equal(t, "pom.xml", results[0].Result.File)
}

func TestSessions(t *testing.T) {
	ss := NewSessions(time.Hour)
	s := ss.Get("a")
	assert.Equal(t, "a", s.ID)
	s.History = append(s.History, Message{Content: "mutated copy"})
	assert.Empty(t, ss.Get("a").History)

	ss.Get("b")
	assert.Equal(t, 2, ss.Len())
	ss.Reset("a")
	assert.Equal(t, 1, ss.Len())

	short := NewSessions(time.Millisecond)
	short.Get("old")
	time.Sleep(5 * time.Millisecond)
	short.Get("new")
	assert.Equal(t, 1, short.Len(), "idle sessions are evicted")
}
