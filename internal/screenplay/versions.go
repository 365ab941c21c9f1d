package screenplay

import (
	"fmt"
	"strings"
)

// v1 is a flat outline: one narration block per episode.
type v1 struct {
	Version  int    `json:"version"`
	Title    string `json:"title"`
	Medium   string `json:"medium"`
	Logline  string `json:"logline"`
	Episodes []struct {
		Title     string `json:"title"`
		Narration string `json:"narration"`
		Visual    string `json:"visual"`
	} `json:"episodes"`
}

func parseV1(raw []byte) (*Plan, error) {
	var doc v1
	if err := decodeStrict(raw, &doc); err != nil {
		return nil, err
	}
	medium, err := parseMedium(doc.Medium)
	if err != nil {
		return nil, err
	}

	plan := &Plan{Title: strings.TrimSpace(doc.Title), Medium: medium}
	for i, ep := range doc.Episodes {
		visual := ep.Visual
		if strings.TrimSpace(visual) == "" {
			visual = ep.Narration
		}
		plan.Episodes = append(plan.Episodes, EpisodePlan{
			Number:        i + 1,
			Title:         episodeTitle(ep.Title, i),
			NarrationText: strings.TrimSpace(ep.Narration),
			VisualPrompt:  clip(visual, maxPromptLength),
		})
	}
	return plan, nil
}

// v2 breaks every episode into scenes with shots and dialogue.
type v2 struct {
	Version  int    `json:"version"`
	Title    string `json:"title"`
	Medium   string `json:"medium"`
	Logline  string `json:"logline"`
	Style    string `json:"style"`
	Episodes []struct {
		Title  string `json:"title"`
		Scenes []struct {
			Heading     string `json:"heading"`
			Description string `json:"description"`
			Shots       []struct {
				Camera      string `json:"camera"`
				Description string `json:"description"`
			} `json:"shots"`
			Dialogue []struct {
				Character string `json:"character"`
				Line      string `json:"line"`
			} `json:"dialogue"`
		} `json:"scenes"`
	} `json:"episodes"`
}

func parseV2(raw []byte) (*Plan, error) {
	var doc v2
	if err := decodeStrict(raw, &doc); err != nil {
		return nil, err
	}
	medium, err := parseMedium(doc.Medium)
	if err != nil {
		return nil, err
	}

	plan := &Plan{Title: strings.TrimSpace(doc.Title), Medium: medium}
	for i, ep := range doc.Episodes {
		if len(ep.Scenes) == 0 {
			return nil, invalid(fmt.Sprintf("episodes[%d].scenes", i), "at least one scene is required")
		}

		var narration, visual []string
		if style := strings.TrimSpace(doc.Style); style != "" {
			visual = append(visual, style)
		}
		for _, sc := range ep.Scenes {
			if d := strings.TrimSpace(sc.Description); d != "" {
				narration = append(narration, d)
			}
			for _, line := range sc.Dialogue {
				text := strings.TrimSpace(line.Line)
				if text == "" {
					continue
				}
				if who := strings.TrimSpace(line.Character); who != "" {
					text = who + ": " + text
				}
				narration = append(narration, text)
			}
			if h := strings.TrimSpace(sc.Heading); h != "" {
				visual = append(visual, h)
			}
			for _, shot := range sc.Shots {
				desc := strings.TrimSpace(shot.Description)
				if cam := strings.TrimSpace(shot.Camera); cam != "" && desc != "" {
					desc = cam + ", " + desc
				}
				if desc != "" {
					visual = append(visual, desc)
				}
			}
		}

		plan.Episodes = append(plan.Episodes, EpisodePlan{
			Number:        i + 1,
			Title:         episodeTitle(ep.Title, i),
			NarrationText: strings.Join(narration, "\n\n"),
			VisualPrompt:  clip(strings.Join(visual, ". "), maxPromptLength),
		})
	}
	return plan, nil
}

func episodeTitle(title string, i int) string {
	if t := strings.TrimSpace(title); t != "" {
		return t
	}
	return fmt.Sprintf("Episode %d", i+1)
}
