package render

// Glyph ramps ordered from empty to densest cell.
var (
	defaultPalette = []rune(" .,:;+*oO#@")
	dotsPalette    = []rune(" ·∙•●◉")
	boxPalette     = []rune(" ░▒▓█")
	sparkPalette   = []rune("  ´`^\"~:;*+×•¤°oO@#█")
)

// Palette returns characters used for density mapping.
func Palette(name string) []rune {
	switch name {
	case "dots":
		return dotsPalette
	case "box":
		return boxPalette
	case "spark":
		return sparkPalette
	default:
		return defaultPalette
	}
}

// PaletteNames returns all palette identifiers.
func PaletteNames() []string {
	return []string{"default", "dots", "box", "spark"}
}
