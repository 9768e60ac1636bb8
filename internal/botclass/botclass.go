// Package botclass decides whether a User-Agent belongs to an AI content crawler.
package botclass

import "strings"

// DefaultAgents lists User-Agent substrings of known AI crawlers and
// assistant fetchers. Matching is case-insensitive.
var DefaultAgents = []string{
	"gptbot",
	"chatgpt-user",
	"oai-searchbot",
	"claudebot",
	"claude-web",
	"claude-user",
	"claude-searchbot",
	"anthropic-ai",
	"perplexitybot",
	"perplexity-user",
	"google-extended",
	"googleother",
	"ccbot",
	"bytespider",
	"amazonbot",
	"applebot-extended",
	"meta-externalagent",
	"meta-externalfetcher",
	"facebookbot",
	"cohere-ai",
	"cohere-training-data-crawler",
	"diffbot",
	"youbot",
	"duckassistbot",
	"mistralai-user",
	"ai2bot",
	"timpibot",
	"omgilibot",
}

// Overrides is a per-tenant adjustment to the default list. Exclude wins
// over both the default list and Include.
type Overrides struct {
	Include []string `json:"include,omitempty"`
	Exclude []string `json:"exclude,omitempty"`
}

// Classifier matches User-Agents against an immutable agent list.
type Classifier struct {
	agents []string
}

// New builds a Classifier from DefaultAgents plus extra substrings.
func New(extra ...string) *Classifier {
	agents := make([]string, 0, len(DefaultAgents)+len(extra))
	agents = appendNormalized(agents, DefaultAgents)
	agents = appendNormalized(agents, extra)
	return &Classifier{agents: agents}
}

// IsAIBot reports whether userAgent should receive rendered content.
// An empty User-Agent is never a bot.
func (c *Classifier) IsAIBot(userAgent string, overrides Overrides) bool {
	ua := strings.ToLower(strings.TrimSpace(userAgent))
	if ua == "" {
		return false
	}
	if containsAny(ua, overrides.Exclude) {
		return false
	}
	return containsAny(ua, c.agents) || containsAny(ua, overrides.Include)
}

// Agents returns a copy of the configured list.
func (c *Classifier) Agents() []string {
	return append([]string(nil), c.agents...)
}

func containsAny(ua string, needles []string) bool {
	for _, needle := range needles {
		needle = strings.ToLower(strings.TrimSpace(needle))
		if needle != "" && strings.Contains(ua, needle) {
			return true
		}
	}
	return false
}

func appendNormalized(dst, src []string) []string {
	for _, agent := range src {
		agent = strings.ToLower(strings.TrimSpace(agent))
		if agent != "" {
			dst = append(dst, agent)
		}
	}
	return dst
}
