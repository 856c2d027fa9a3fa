package domain

import (
	"strings"
	"unicode"
)

// Checked in order; the first category with a matching keyword wins.
var categoryKeywords = []struct {
	category Category
	words    []string
}{
	{CategoryGovernment, []string{"government", "ministry", "policy", "scheme", "cabinet"}},
	{CategoryInternational, []string{"international", "world", "country", "foreign", "global"}},
	{CategoryEconomy, []string{"economy", "economic", "budget", "finance", "market", "gdp"}},
	{CategoryScience, []string{"technology", "tech", "digital", "ai", "internet", "cyber"}},
	{CategorySports, []string{"sports", "olympic", "cricket", "football", "player", "match"}},
	{CategoryDefence, []string{"defence", "military", "army", "navy", "air force", "security"}},
	{CategoryEnvironment, []string{"environment", "climate", "pollution", "green", "renewable"}},
	{CategoryAwards, []string{"award", "prize", "honour", "recognition", "achievement"}},
}

var highImportanceKeywords = []string{
	"government", "policy", "budget", "international", "breaking",
	"major", "supreme court", "parliament", "election", "gdp",
	"economic", "minister", "president", "prime minister",
}

// Categorize assigns a category to free text by keyword. Keywords match
// whole words so that "ai" does not fire inside "said".
func Categorize(text string) Category {
	padded := wordPad(text)
	for _, c := range categoryKeywords {
		for _, w := range c.words {
			if strings.Contains(padded, " "+w+" ") {
				return c.category
			}
		}
	}
	return CategoryGeneral
}

// RateImportance marks a record high when its title and content mention
// at least two high-importance keywords.
func RateImportance(title, content string) Importance {
	padded := wordPad(title + " " + content)
	hits := 0
	for _, w := range highImportanceKeywords {
		if strings.Contains(padded, " "+w+" ") {
			hits++
		}
	}
	if hits >= 2 {
		return ImportanceHigh
	}
	return ImportanceMedium
}

// wordPad lowercases s, turns every non letter/digit into a space and
// surrounds the result with spaces.
func wordPad(s string) string {
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, s)
	return " " + strings.Join(strings.Fields(mapped), " ") + " "
}
