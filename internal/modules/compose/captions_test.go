package compose

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

const sampleScript = "[Script Info]\r\n" +
	"ScriptType: v4.00+\r\n" +
	"PlayResX: 1080\r\n" +
	"PlayResY: 1920\r\n" +
	"\r\n" +
	"[V4+ Styles]\r\n" +
	"Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding\r\n" +
	"Style: Default,Consolas,48,&H00FFFFFF,&H00FFFFFF,&H00000000,&H00000000,-1,0,0,0,100,100,0,0,1,3,0,2,40,40,768,1\r\n" +
	"Style: Highlight,Consolas,48,&H0000FFFF,&H0000FFFF,&H00000000,&H00000000,-1,0,0,0,100,100,0,0,1,3,0,2,40,40,768,1\r\n" +
	"\r\n" +
	"[Events]\r\n" +
	"Dialogue: 0,0:00:00.00,0:00:01.00,Default,,0,0,0,,Hello\r\n"

func TestStyleScript(t *testing.T) {
	style := DefaultCaptionStyle()
	style.Font = "Montserrat"
	style.PrimaryColor = "#FFCC00"
	style.Position = PositionTopCenter

	t.Run("replaces exactly one line", func(t *testing.T) {
		out := string(StyleScript([]byte(sampleScript), style))

		before := strings.Split(sampleScript, "\n")
		after := strings.Split(out, "\n")
		assert.Len(t, after, len(before))

		changed := 0
		for i := range before {
			if before[i] != after[i] {
				changed++
				assert.True(t, strings.HasSuffix(after[i], "\r"), "line ending kept")
				fields := strings.Split(strings.TrimSuffix(after[i], "\r"), ",")
				assert.Len(t, fields, styleFieldCount)
				assert.Equal(t, "Style: Default", fields[0])
				assert.Equal(t, "Montserrat", fields[1])
				assert.Equal(t, "&H0000CCFF", fields[3])
				assert.Equal(t, "8", fields[18])
				assert.Equal(t, "250", fields[21])
			}
		}
		assert.Equal(t, 1, changed)
		assert.Contains(t, out, "Style: Highlight,Consolas")
	})

	t.Run("script without default style is unchanged", func(t *testing.T) {
		script := "[Script Info]\nTitle: x\n\n[V4+ Styles]\nStyle: Title,Arial,20\n"
		out := StyleScript([]byte(script), style)
		assert.Equal(t, script, string(out))
	})

	t.Run("truncated default style is not touched", func(t *testing.T) {
		script := "Style: Default,Arial,20,&H00FFFFFF\n"
		assert.Equal(t, script, string(StyleScript([]byte(script), style)))
	})
}

func TestCaptionStyleLine(t *testing.T) {
	tests := []struct {
		name      string
		position  Position
		margin    int
		alignment int
		marginV   int
	}{
		{"bottom center", PositionBottomCenter, 0, 2, 150},
		{"bottom left", PositionBottomLeft, 0, 1, 150},
		{"middle", PositionMiddleCenter, 0, 5, 0},
		{"top right", PositionTopRight, 0, 9, 250},
		{"explicit margin", PositionBottomRight, 90, 3, 90},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			style := DefaultCaptionStyle()
			style.Position = tt.position
			style.Margin = tt.margin
			assert.Equal(t, tt.alignment, style.Alignment())
			assert.Equal(t, tt.marginV, style.MarginV())

			line := style.StyleLine()
			assert.True(t, defaultStyleLine.MatchString(line), line)
		})
	}

	t.Run("flags and colors", func(t *testing.T) {
		style := DefaultCaptionStyle()
		style.Bold = false
		style.Italic = true
		style.OutlineColor = "112233"
		fields := strings.Split(style.StyleLine(), ",")
		assert.Equal(t, "&H00332211", fields[5])
		assert.Equal(t, "0", fields[7])
		assert.Equal(t, "-1", fields[8])
	})
}

func TestCaptionFontCannotSplitStyleLine(t *testing.T) {
	fonts := []string{"Arial\n[Events]", "Arial\r\nStyle: Other", "Ari\tal", "Arial,Bold"}
	for _, font := range fonts {
		s, err := SettingsFromMap(map[string]interface{}{"caption_font": font})
		assert.Error(t, err, "%q", font)
		assert.Equal(t, "Arial", s.Caption.Font, "%q", font)

		out := string(StyleScript([]byte(sampleScript), s.Caption))
		assert.Equal(t, strings.Count(sampleScript, "\n"), strings.Count(out, "\n"), "%q", font)
	}
}
