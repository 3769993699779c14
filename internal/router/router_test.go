package router

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devguard/internal/inference"
	"devguard/internal/registry"
)

type stubLLM struct {
	reply  string
	err    error
	system string
	prompt string
	calls  int
}

func (s *stubLLM) GenerateText(ctx context.Context, system, prompt string) (string, error) {
	s.calls++
	s.system, s.prompt = system, prompt
	return s.reply, s.err
}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	metas, err := registry.LoadMetadata("")
	require.NoError(t, err)
	reg := registry.New()
	for _, m := range metas {
		reg.Register(&registry.Tool{Metadata: *m})
	}
	return reg
}

func TestCleanPrompt(t *testing.T) {
	testCases := []struct {
		in, want string
	}{
		{"check licenses in tools/license_checker/config/map.py please", "check licenses in please"},
		{"review   src/Main.java\tand pom.xml", "review and"},
		{"  nothing   to strip ", "nothing to strip"},
		{"keep main.pyc intact", "keep main.pyc intact"},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, CleanPrompt(tc.in), tc.in)
	}
}

func TestExtractFilename(t *testing.T) {
	testCases := []struct {
		name, in, want string
	}{
		{"python", "check licenses in app/main.py", "app/main.py"},
		{"java", "score src/com/acme/Service.java for sustainability", "src/com/acme/Service.java"},
		{"xml", "what licenses does pom.xml pull in", "pom.xml"},
		{"python wins over java", "compare Service.java with helper.py", "helper.py"},
		{"java wins over xml", "pom.xml and Main.java", "Main.java"},
		{"relative", "look at ./scripts/run-me.py now", "./scripts/run-me.py"},
		{"windows", `check C:\code\tool.py`, `\code\tool.py`},
		{"none", "research green software", ""},
		{"not a match", "open archive.pyz", ""},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ExtractFilename(tc.in))
		})
	}
}

func TestRoute_KeywordFastPath(t *testing.T) {
	llm := &stubLLM{reply: "deep_research"}
	r := New(testRegistry(t), llm)

	testCases := []struct {
		prompt string
		want   string
	}{
		{"check the licenses used by app.py", "library_license_checker"},
		{"is Main.java following our naming guidelines?", "internal_guideline_compliance_checker"},
		{"how green is my java code, run pmd", "sustainability_checker"},
		{"write documentation for utils.py", "documentation_generator"},
	}
	for _, tc := range testCases {
		d, err := r.Route(context.Background(), tc.prompt)
		require.NoError(t, err, tc.prompt)
		assert.Equal(t, tc.want, d.ToolID, tc.prompt)
		assert.Equal(t, "keyword", d.Via)
		assert.True(t, d.Known)
	}
	assert.Equal(t, 0, llm.calls)
}

func TestRoute_FallsBackToLLM(t *testing.T) {
	llm := &stubLLM{reply: "  `Deep_Research`\n"}
	r := New(testRegistry(t), llm)

	d, err := r.Route(context.Background(), "what is new in quantum computing? see notes.py")
	require.NoError(t, err)

	assert.Equal(t, Decision{ToolID: "deep_research", Known: true, Via: "llm"}, d)
	assert.Equal(t, systemPrompt, llm.system)
	assert.Contains(t, llm.prompt, "User request: what is new in quantum computing? see")
	assert.NotContains(t, llm.prompt, "notes.py")
	assert.Contains(t, llm.prompt, `"name": "library_license_checker"`)
	assert.Contains(t, llm.prompt, "Reply with only the tool's name exactly as listed.")
}

func TestRoute_UnknownToolFromLLM(t *testing.T) {
	r := New(testRegistry(t), &stubLLM{reply: "weather_tool"})

	d, err := r.Route(context.Background(), "what's the weather tomorrow")
	require.NoError(t, err)
	assert.False(t, d.Known)
	assert.Equal(t, "weather_tool", d.ToolID)
}

func TestRoute_Errors(t *testing.T) {
	reg := testRegistry(t)

	_, err := New(reg, nil).Route(context.Background(), "hello there")
	assert.ErrorIs(t, err, ErrNoRoute)

	_, err = New(reg, inference.NewService(0)).Route(context.Background(), "hello there")
	assert.ErrorIs(t, err, ErrNoRoute)

	boom := errors.New("quota")
	_, err = New(reg, &stubLLM{err: boom}).Route(context.Background(), "hello there")
	assert.ErrorIs(t, err, boom)
}

func TestKeywordMatch_TieGoesToLLM(t *testing.T) {
	reg := registry.New()
	reg.Register(&registry.Tool{Metadata: registry.Metadata{Name: "alpha", DisplayName: "Alpha", Keywords: []string{"scan"}}})
	reg.Register(&registry.Tool{Metadata: registry.Metadata{Name: "beta", DisplayName: "Beta", Keywords: []string{"scan"}}})

	llm := &stubLLM{reply: "beta"}
	d, err := New(reg, llm).Route(context.Background(), "scan it")
	require.NoError(t, err)
	assert.Equal(t, "beta", d.ToolID)
	assert.Equal(t, "llm", d.Via)
}
