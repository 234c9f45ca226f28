package config

import "time"

// DefaultFiles are the config file names Find looks for, in order.
var DefaultFiles = []string{"assetstorm.yaml", "assetstorm.yml", "assetstorm.toml"}

// DefaultPort is the preview server port.
const DefaultPort = 3000

// Defaults returns the built-in configuration layer.
func Defaults() map[string]any {
	return map[string]any{
		"views": map[string]any{
			"src":      []any{"assets/views/*.html"},
			"dest":     "public",
			"partials": "assets/views/partials/*.html",
		},
		"styles": map[string]any{
			"src":         []any{"assets/styles/*.scss"},
			"watch":       "assets/styles/**/*.scss",
			"dest":        "public/styles",
			"maps":        ".",
			"outputStyle": "compressed",
			"prefix":      true,
			"inject": map[string]any{
				"start":  "/* inject:imports */",
				"end":    "/* endinject */",
				"format": "@import '%s';",
			},
		},
		"scripts": map[string]any{
			"src":    []any{"assets/scripts/**/*.js"},
			"dest":   "public/scripts",
			"bundle": "app.js",
			"maps":   ".",
			"minify": true,
		},
		"sprites": map[string]any{
			"src":       []any{"assets/sprites/*.png"},
			"dest":      "public/imgs/sprites",
			"styleDest": "assets/styles/components",
			"imgName":   "sprites.png",
			"cssName":   "sprite-vars.scss",
			"imgPath":   "../imgs/sprites/sprites.png",
			"prefix":    "sprite-",
		},
		"vendor": map[string]any{
			"manifest":      "bower.json",
			"componentsDir": "bower_components",
		},
		"lint": map[string]any{
			"matcher": "$jshint",
		},
		"server": map[string]any{
			"baseDir":     "public",
			"host":        "localhost",
			"port":        DefaultPort,
			"reloadDelay": 100 * time.Millisecond,
			"metrics":     true,
		},
		"watch": map[string]any{
			"debounce": 100 * time.Millisecond,
		},
		"logging": map[string]any{
			"level": "info",
		},
	}
}
