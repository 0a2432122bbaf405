package protocol

// Layout types exchanged with the html layout module.
// JSON tags mirror the module's serializer exactly; the result decoders
// reject unknown fields, so every field the module emits must be listed here.

// OutputShape selects which result structure the module serializes.
type OutputShape string

const (
	ShapeFlat   OutputShape = "flat"
	ShapeByRow  OutputShape = "byRow"
	ShapeSimple OutputShape = "simple"
	ShapeFull   OutputShape = "full"
)

// Valid reports whether s is one of the four known shapes.
func (s OutputShape) Valid() bool {
	switch s {
	case ShapeFlat, ShapeByRow, ShapeSimple, ShapeFull:
		return true
	}
	return false
}

func (s OutputShape) String() string {
	return string(s)
}

// ParseShape converts a mode string into an OutputShape.
// An empty string selects ShapeFlat; "byrow" is accepted as an alias.
func ParseShape(mode string) (OutputShape, error) {
	switch mode {
	case "":
		return ShapeFlat, nil
	case "byrow":
		return ShapeByRow, nil
	}
	shape := OutputShape(mode)
	if !shape.Valid() {
		return "", &InvalidShapeError{Shape: mode}
	}
	return shape, nil
}

// TextDecoration holds text-decoration-* values for a character.
type TextDecoration struct {
	Underline   bool    `json:"underline"`
	Overline    bool    `json:"overline"`
	LineThrough bool    `json:"lineThrough"`
	Color       string  `json:"color"`
	Style       string  `json:"style"`
	Thickness   float64 `json:"thickness"`
}

// Transform holds CSS transform values for a character.
type Transform struct {
	ScaleX float64 `json:"scaleX"`
	ScaleY float64 `json:"scaleY"`
	SkewX  float64 `json:"skewX"`
	SkewY  float64 `json:"skewY"`
	Rotate float64 `json:"rotate"`
}

// CharLayout is the layout record of a single rendered character.
// Positions and sizes are pixels; colors are #RRGGBBAA.
type CharLayout struct {
	Character       string         `json:"character"`
	X               int            `json:"x"`
	Y               int            `json:"y"`
	Width           int            `json:"width"`
	Height          int            `json:"height"`
	FontFamily      string         `json:"fontFamily"`
	FontSize        int            `json:"fontSize"`
	FontWeight      int            `json:"fontWeight"`
	FontStyle       string         `json:"fontStyle"`
	Color           string         `json:"color"`
	BackgroundColor string         `json:"backgroundColor"`
	Opacity         float64        `json:"opacity"`
	TextDecoration  TextDecoration `json:"textDecoration"`
	LetterSpacing   float64        `json:"letterSpacing"`
	WordSpacing     float64        `json:"wordSpacing"`
	Transform       Transform      `json:"transform"`
	Baseline        int            `json:"baseline"`
	Direction       string         `json:"direction"`
	FontID          int32          `json:"fontId"`
}

// Row groups the characters sharing a y coordinate (byRow shape).
type Row struct {
	RowIndex int          `json:"rowIndex"`
	Y        int          `json:"y"`
	Children []CharLayout `json:"children"`
}

// Viewport is the layout viewport in pixels.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// SimpleLine is a line of the simple shape.
type SimpleLine struct {
	LineIndex  int          `json:"lineIndex"`
	Y          int          `json:"y"`
	Baseline   int          `json:"baseline"`
	Height     int          `json:"height"`
	Width      int          `json:"width"`
	TextAlign  string       `json:"textAlign"`
	Characters []CharLayout `json:"characters,omitempty"`
}

// SimpleDocument is the simple shape: envelope plus lines.
type SimpleDocument struct {
	Version  string       `json:"version"`
	Viewport Viewport     `json:"viewport"`
	Lines    []SimpleLine `json:"lines"`
}

// BoxSpacing is a margin or padding box.
type BoxSpacing struct {
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
}

// Run is a style-homogeneous sequence of characters within a line.
type Run struct {
	RunIndex        int            `json:"runIndex"`
	X               int            `json:"x"`
	FontFamily      string         `json:"fontFamily"`
	FontSize        int            `json:"fontSize"`
	FontWeight      int            `json:"fontWeight"`
	FontStyle       string         `json:"fontStyle"`
	Color           string         `json:"color"`
	BackgroundColor string         `json:"backgroundColor"`
	TextDecoration  TextDecoration `json:"textDecoration"`
	Characters      []CharLayout   `json:"characters"`
}

// Line is a line of the full shape.
type Line struct {
	LineIndex int    `json:"lineIndex"`
	Y         int    `json:"y"`
	Baseline  int    `json:"baseline"`
	Height    int    `json:"height"`
	Width     int    `json:"width"`
	TextAlign string `json:"textAlign"`
	Runs      []Run  `json:"runs"`
}

// Block is a block box of the full shape.
type Block struct {
	BlockIndex      int        `json:"blockIndex"`
	Type            string     `json:"type"`
	X               int        `json:"x"`
	Y               int        `json:"y"`
	Width           int        `json:"width"`
	Height          int        `json:"height"`
	Margin          BoxSpacing `json:"margin"`
	Padding         BoxSpacing `json:"padding"`
	BackgroundColor string     `json:"backgroundColor"`
	BorderRadius    int        `json:"borderRadius"`
	Lines           []Line     `json:"lines"`
}

// Page is a page of the full shape.
type Page struct {
	PageIndex int     `json:"pageIndex"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	Blocks    []Block `json:"blocks"`
}

// FullDocument is the full shape: pages, blocks, lines, runs, characters.
type FullDocument struct {
	Version       string   `json:"version"`
	ParserVersion string   `json:"parserVersion"`
	Viewport      Viewport `json:"viewport"`
	Pages         []Page   `json:"pages"`
}

// FontInfo is a font entry as reported by the module.
type FontInfo struct {
	ID          int32  `json:"id"`
	Name        string `json:"name"`
	MemoryUsage uint64 `json:"memoryUsage"`
	IsDefault   bool   `json:"isDefault,omitempty"`
}

// MemoryMetrics is the module's font memory snapshot.
type MemoryMetrics struct {
	TotalBytes       uint64     `json:"totalMemoryUsage"`
	FontCount        int        `json:"fontCount"`
	FontHandleCount  int        `json:"fontHandleCount"`
	MemoryThreshold  uint64     `json:"memoryThreshold"`
	ExceedsThreshold bool       `json:"exceedsThreshold"`
	Fonts            []FontInfo `json:"fonts"`
}

// PerformanceMetrics is the timing snapshot of a parse operation.
// Times are milliseconds.
type PerformanceMetrics struct {
	ParseTime      float64 `json:"parseTime"`
	LayoutTime     float64 `json:"layoutTime"`
	SerializeTime  float64 `json:"serializeTime"`
	TotalTime      float64 `json:"totalTime"`
	CharacterCount int     `json:"characterCount"`
	InputSize      uint64  `json:"inputSize,omitempty"`
	CharsPerSecond float64 `json:"charsPerSecond,omitempty"`
	MemoryUsed     uint64  `json:"memoryUsed,omitempty"`
}

// ModuleMetrics is the result of the module's getMetrics export.
type ModuleMetrics struct {
	PerformanceMetrics
	Memory struct {
		TotalFontMemory  uint64 `json:"totalFontMemory"`
		FontCount        int    `json:"fontCount"`
		ExceedsThreshold bool   `json:"exceedsThreshold"`
	} `json:"memory"`
}

// CacheStats are the module's font metrics cache counters.
// HitRate is nil until the cache has been queried.
type CacheStats struct {
	Hits        uint64   `json:"hits"`
	Misses      uint64   `json:"misses"`
	Entries     uint64   `json:"entries"`
	HitRate     *float64 `json:"hitRate"`
	MemoryUsage uint64   `json:"memoryUsage"`
}
