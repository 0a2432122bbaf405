package bridge

// Exports of the html layout module.
const (
	ExportMalloc = "malloc"
	ExportFree   = "free"

	ExportLoadFont       = "loadFont"
	ExportUnloadFont     = "unloadFont"
	ExportSetDefaultFont = "setDefaultFont"
	ExportGetLoadedFonts = "getLoadedFonts"
	ExportClearAllFonts  = "clearAllFonts"

	ExportParseHTML                = "parseHTML"
	ExportParseHTMLWithDiagnostics = "parseHTMLWithDiagnostics"
	ExportGetLastParseResult       = "getLastParseResult"
	ExportFreeString               = "freeString"

	ExportDestroy              = "destroy"
	ExportGetTotalMemoryUsage  = "getTotalMemoryUsage"
	ExportCheckMemoryThreshold = "checkMemoryThreshold"
	ExportGetMemoryMetrics     = "getMemoryMetrics"
	ExportGetVersion           = "getVersion"
	ExportSetDebugMode         = "setDebugMode"
	ExportGetDebugMode         = "getDebugMode"

	// Optional.
	ExportGetMetrics      = "getMetrics"
	ExportGetCacheStats   = "getCacheStats"
	ExportResetCacheStats = "resetCacheStats"
	ExportClearCache      = "clearCache"
)

// RequiredExports is the set of exports a module must provide to be usable.
var RequiredExports = []string{
	ExportMalloc,
	ExportFree,
	ExportLoadFont,
	ExportUnloadFont,
	ExportSetDefaultFont,
	ExportGetLoadedFonts,
	ExportClearAllFonts,
	ExportParseHTML,
	ExportParseHTMLWithDiagnostics,
	ExportGetLastParseResult,
	ExportFreeString,
	ExportDestroy,
	ExportGetTotalMemoryUsage,
	ExportCheckMemoryThreshold,
	ExportGetMemoryMetrics,
	ExportGetVersion,
	ExportSetDebugMode,
	ExportGetDebugMode,
}
