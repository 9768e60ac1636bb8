package botclass

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsAIBot(t *testing.T) {
	t.Parallel()

	c := New("examplebot")
	tests := []struct {
		name      string
		ua        string
		overrides Overrides
		want      bool
	}{
		{"empty", "", Overrides{}, false},
		{"whitespace", "   ", Overrides{}, false},
		{"gptbot", "Mozilla/5.0 AppleWebKit/537.36 (KHTML, like Gecko; compatible; GPTBot/1.0; +https://openai.com/gptbot)", Overrides{}, true},
		{"claudebot", "ClaudeBot/1.0", Overrides{}, true},
		{"chrome", "Mozilla/5.0 Chrome/120", Overrides{}, false},
		{"googlebot is not ai", "Mozilla/5.0 (compatible; Googlebot/2.1)", Overrides{}, false},
		{"extra agent", "ExampleBot/2.0", Overrides{}, true},
		{"tenant include", "AcmeReader/1.0", Overrides{Include: []string{"acmereader"}}, true},
		{"tenant exclude beats default", "GPTBot/1.0", Overrides{Exclude: []string{"GPTBot"}}, false},
		{"tenant exclude beats extra", "examplebot/1.0", Overrides{Exclude: []string{"examplebot"}}, false},
		{"exclude beats include", "AcmeReader/1.0", Overrides{Include: []string{"acmereader"}, Exclude: []string{"acme"}}, false},
		{"blank override ignored", "Mozilla/5.0 Chrome/120", Overrides{Include: []string{""}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, c.IsAIBot(tt.ua, tt.overrides))
		})
	}
}

func TestOverridesDoNotMutateList(t *testing.T) {
	t.Parallel()

	c := New()
	before := c.Agents()
	require.True(t, c.IsAIBot("AcmeReader", Overrides{Include: []string{"acmereader"}}))
	require.False(t, c.IsAIBot("AcmeReader", Overrides{}))
	require.Equal(t, before, c.Agents())

	agents := c.Agents()
	agents[0] = "mutated"
	require.NotEqual(t, "mutated", c.Agents()[0])
}
