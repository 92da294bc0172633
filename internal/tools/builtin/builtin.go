// Package builtin registers the default tool factories.
package builtin

import (
	"github.com/MrWong99/parla/internal/tools"
	"github.com/MrWong99/parla/internal/tools/calculator"
	"github.com/MrWong99/parla/internal/tools/calendar"
	"github.com/MrWong99/parla/internal/tools/files"
	"github.com/MrWong99/parla/internal/tools/mcptool"
	"github.com/MrWong99/parla/internal/tools/music"
	"github.com/MrWong99/parla/internal/tools/system"
	"github.com/MrWong99/parla/internal/tools/weather"
)

// legacyClassPaths maps the dotted class paths found in older tool config
// files to factory keys.
var legacyClassPaths = map[string]string{
	"tools.weather_tool.WeatherTool":       "weather",
	"tools.calendar_tool.CalendarTool":     "calendar",
	"tools.file_tool.FileTool":             "files",
	"tools.music_tool.MusicTool":           "music",
	"tools.system_tool.SystemTool":         "system",
	"tools.calculator_tool.CalculatorTool": "calculator",
}

// Register adds every built-in factory and the legacy aliases to f.
func Register(f *tools.Factories) {
	f.Register("weather", weather.Factory)
	f.Register("calendar", calendar.Factory)
	f.Register("files", files.Factory)
	f.Register("music", music.Factory)
	f.Register("system", system.Factory)
	f.Register("calculator", calculator.Factory)
	f.Register("mcp", mcptool.Factory)

	for alias, key := range legacyClassPaths {
		f.Alias(alias, key)
	}
}

// Factories returns a fresh table with the built-ins registered.
func Factories() *tools.Factories {
	f := tools.NewFactories()
	Register(f)
	return f
}
