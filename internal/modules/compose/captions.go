package compose

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

const maxCaptionSize = 1000

// Position is one of the nine caption layout positions.
type Position string

const (
	PositionTopLeft      Position = "top_left"
	PositionTopCenter    Position = "top_center"
	PositionTopRight     Position = "top_right"
	PositionMiddleLeft   Position = "middle_left"
	PositionMiddleCenter Position = "middle_center"
	PositionMiddleRight  Position = "middle_right"
	PositionBottomLeft   Position = "bottom_left"
	PositionBottomCenter Position = "bottom_center"
	PositionBottomRight  Position = "bottom_right"
)

// ASS alignment codes follow the numeric keypad layout.
var alignmentCodes = map[Position]int{
	PositionBottomLeft:   1,
	PositionBottomCenter: 2,
	PositionBottomRight:  3,
	PositionMiddleLeft:   4,
	PositionMiddleCenter: 5,
	PositionMiddleRight:  6,
	PositionTopLeft:      7,
	PositionTopCenter:    8,
	PositionTopRight:     9,
}

// Derived vertical margins per row, in script pixels.
const (
	topMarginV    = 250
	middleMarginV = 0
	bottomMarginV = 150
)

// styleFieldCount is the number of fields in a V4+ Style line.
const styleFieldCount = 23

// defaultStyleLine matches a complete "Style: Default" declaration with all 23 fields.
var defaultStyleLine = regexp.MustCompile(`^Style:\s*Default\s*(,[^,]*){22}$`)

// CaptionStyle is the style record written over the script's default style.
type CaptionStyle struct {
	Font         string
	Size         int
	PrimaryColor string
	OutlineColor string
	Bold         bool
	Italic       bool
	Outline      float64
	Shadow       float64
	Position     Position
	// Margin overrides the derived vertical margin when positive.
	Margin int
}

// DefaultCaptionStyle is bold white text with a black outline near the bottom.
func DefaultCaptionStyle() CaptionStyle {
	return CaptionStyle{
		Font:         "Arial",
		Size:         64,
		PrimaryColor: "#FFFFFF",
		OutlineColor: "#000000",
		Bold:         true,
		Outline:      3,
		Position:     PositionBottomCenter,
	}
}

// apply reads caption_* keys and returns the keys that held unusable values.
func (c *CaptionStyle) apply(values map[string]interface{}) []string {
	var bad []string

	if v, ok := values["caption_font"]; ok {
		if s, ok := v.(string); ok && validFontName(s) {
			c.Font = strings.TrimSpace(s)
		} else {
			bad = append(bad, "caption_font")
		}
	}
	if v, ok := values["caption_size"]; ok {
		if f, ok := toFloat(v); ok && f > 0 && f <= maxCaptionSize {
			c.Size = int(f)
		} else {
			bad = append(bad, "caption_size")
		}
	}
	if v, ok := values["caption_color"]; ok {
		if s, ok := v.(string); ok && validHexColor(s) {
			c.PrimaryColor = s
		} else {
			bad = append(bad, "caption_color")
		}
	}
	if v, ok := values["caption_outline_color"]; ok {
		if s, ok := v.(string); ok && validHexColor(s) {
			c.OutlineColor = s
		} else {
			bad = append(bad, "caption_outline_color")
		}
	}
	if v, ok := values["caption_bold"]; ok {
		if b, ok := toBool(v); ok {
			c.Bold = b
		} else {
			bad = append(bad, "caption_bold")
		}
	}
	if v, ok := values["caption_italic"]; ok {
		if b, ok := toBool(v); ok {
			c.Italic = b
		} else {
			bad = append(bad, "caption_italic")
		}
	}
	if v, ok := values["caption_outline"]; ok {
		if f, ok := toFloat(v); ok && f >= 0 {
			c.Outline = f
		} else {
			bad = append(bad, "caption_outline")
		}
	}
	if v, ok := values["caption_shadow"]; ok {
		if f, ok := toFloat(v); ok && f >= 0 {
			c.Shadow = f
		} else {
			bad = append(bad, "caption_shadow")
		}
	}
	if v, ok := values["caption_position"]; ok {
		p := Position(toString(v))
		if _, ok := alignmentCodes[p]; ok {
			c.Position = p
		} else {
			bad = append(bad, "caption_position")
		}
	}
	if v, ok := values["caption_margin"]; ok {
		if f, ok := toFloat(v); ok && f >= 0 && f <= maxDimension {
			c.Margin = int(f)
		} else {
			bad = append(bad, "caption_margin")
		}
	}

	return bad
}

// Alignment returns the ASS alignment code for the style's position.
func (c CaptionStyle) Alignment() int {
	if code, ok := alignmentCodes[c.Position]; ok {
		return code
	}
	return alignmentCodes[PositionBottomCenter]
}

// MarginV returns the vertical margin: the explicit override, or a row default
// that is larger near the top than near the bottom.
func (c CaptionStyle) MarginV() int {
	if c.Margin > 0 {
		return c.Margin
	}
	switch {
	case strings.HasPrefix(string(c.Position), "top_"):
		return topMarginV
	case strings.HasPrefix(string(c.Position), "middle_"):
		return middleMarginV
	}
	return bottomMarginV
}

// StyleLine formats the record as a V4+ "Style: Default" line.
func (c CaptionStyle) StyleLine() string {
	fields := []string{
		"Style: Default",
		c.Font,
		strconv.Itoa(c.Size),
		assColor(c.PrimaryColor),
		assColor(c.PrimaryColor),
		assColor(c.OutlineColor),
		"&H00000000",
		assFlag(c.Bold),
		assFlag(c.Italic),
		"0", "0", // underline, strikeout
		"100", "100", // scale x, y
		"0", "0", // spacing, angle
		"1", // outline + drop shadow border
		formatNumber(c.Outline),
		formatNumber(c.Shadow),
		strconv.Itoa(c.Alignment()),
		"40", "40",
		strconv.Itoa(c.MarginV()),
		"1",
	}
	return strings.Join(fields, ",")
}

// StyleScript replaces the first complete default style line of an ASS script
// with the record's own line. Scripts without such a line are returned unchanged.
func StyleScript(script []byte, style CaptionStyle) []byte {
	lines := strings.Split(string(script), "\n")
	for i, line := range lines {
		body := strings.TrimSuffix(line, "\r")
		if !defaultStyleLine.MatchString(body) {
			continue
		}
		lines[i] = style.StyleLine() + line[len(body):]
		return []byte(strings.Join(lines, "\n"))
	}
	return script
}

var hexColor = regexp.MustCompile(`^#?[0-9A-Fa-f]{6}$`)

// validFontName rejects names that would break the comma separated style
// line or split it across lines.
func validFontName(s string) bool {
	if strings.TrimSpace(s) == "" {
		return false
	}
	return !strings.ContainsFunc(s, func(r rune) bool {
		return r == ',' || unicode.IsControl(r)
	})
}

func validHexColor(s string) bool {
	return hexColor.MatchString(strings.TrimSpace(s))
}

// assColor converts #RRGGBB into the alpha-prefixed &HAABBGGRR form.
func assColor(rgb string) string {
	rgb = strings.TrimPrefix(strings.TrimSpace(rgb), "#")
	if len(rgb) != 6 {
		return "&H00FFFFFF"
	}
	rgb = strings.ToUpper(rgb)
	return fmt.Sprintf("&H00%s%s%s", rgb[4:6], rgb[2:4], rgb[0:2])
}

func assFlag(b bool) string {
	if b {
		return "-1"
	}
	return "0"
}
