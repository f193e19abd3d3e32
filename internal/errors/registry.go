package errors

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category Category
	Message  string
	Detail   string
}

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// ============================================
	// Configuration Errors (E120-E139)
	// ============================================

	"E120": {
		Category: CategoryConfig,
		Message:  "Invalid netsync.json",
		Detail:   "The netsync.json configuration file is malformed.",
	},
	"E121": {
		Category: CategoryConfig,
		Message:  "Invalid configuration value",
		Detail:   "A configuration value is out of range or cannot be parsed.",
	},
	"E122": {
		Category: CategoryConfig,
		Message:  "Invalid listen address",
		Detail:   "The configured listen address is not a valid host:port pair.",
	},
	"E123": {
		Category: CategoryConfig,
		Message:  "Configuration file not found",
		Detail:   "No netsync.json was found at the given path.",
	},

	// ============================================
	// Host Errors (E200-E219)
	// ============================================

	"E200": {
		Category: CategoryHost,
		Message:  "Tick loop stopped",
		Detail:   "The connection manager reported an unrecoverable error during a tick.",
	},
	"E201": {
		Category: CategoryHost,
		Message:  "HTTP server failed",
		Detail:   "The HTTP listener could not be started or stopped cleanly.",
	},
	"E202": {
		Category: CategoryHost,
		Message:  "Peer connection failed",
		Detail:   "A websocket peer could not be attached to the connection manager.",
	},

	// ============================================
	// Capture Errors (E300-E319)
	// ============================================

	"E300": {
		Category: CategoryCapture,
		Message:  "Capture upload failed",
		Detail:   "A peer traffic capture could not be stored in the configured bucket.",
	},
	"E301": {
		Category: CategoryCapture,
		Message:  "Capture storage unavailable",
		Detail:   "The object storage client could not be configured.",
	},

	// ============================================
	// CLI Errors (E140-E159)
	// ============================================

	"E140": {
		Category: CategoryCLI,
		Message:  "Configuration file already exists",
		Detail:   "Refusing to overwrite an existing netsync.json.",
	},
}

// Lookup returns the template registered for code.
func Lookup(code string) (ErrorTemplate, bool) {
	t, ok := registry[code]
	return t, ok
}
