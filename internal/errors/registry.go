package errors

// template is the registered shape of a coded error.
type template struct {
	Category Category
	Message  string
	Detail   string
	DocURL   string
}

// registry maps error codes to their templates.
//
// Ranges:
//
//	H100-H119  config
//	H120-H139  protocol
//	H140-H159  session
//	H160-H179  schedule
//	H180-H199  CLI
var registry = map[string]template{
	"H100": {
		Category: CategoryConfig,
		Message:  "config file not found",
		Detail:   "No hyperstar.json was found at the given path.",
		DocURL:   "https://hyperstar.dev/docs/errors/H100",
	},
	"H101": {
		Category: CategoryConfig,
		Message:  "config file unreadable",
		DocURL:   "https://hyperstar.dev/docs/errors/H101",
	},
	"H102": {
		Category: CategoryConfig,
		Message:  "config file is not valid JSON",
		DocURL:   "https://hyperstar.dev/docs/errors/H102",
	},
	"H103": {
		Category: CategoryConfig,
		Message:  "invalid config value",
		DocURL:   "https://hyperstar.dev/docs/errors/H103",
	},
	"H104": {
		Category: CategoryConfig,
		Message:  "config write failed",
		DocURL:   "https://hyperstar.dev/docs/errors/H104",
	},

	"H120": {
		Category: CategoryProtocol,
		Message:  "malformed action request",
		DocURL:   "https://hyperstar.dev/docs/errors/H120",
	},
	"H121": {
		Category: CategoryProtocol,
		Message:  "unknown event kind",
		DocURL:   "https://hyperstar.dev/docs/errors/H121",
	},

	"H140": {
		Category: CategorySession,
		Message:  "session not found",
		DocURL:   "https://hyperstar.dev/docs/errors/H140",
	},

	"H160": {
		Category: CategorySchedule,
		Message:  "invalid cron expression",
		DocURL:   "https://hyperstar.dev/docs/errors/H160",
	},
	"H161": {
		Category: CategorySchedule,
		Message:  "duplicate job id",
		DocURL:   "https://hyperstar.dev/docs/errors/H161",
	},

	"H180": {
		Category: CategoryCLI,
		Message:  "invalid command arguments",
		DocURL:   "https://hyperstar.dev/docs/errors/H180",
	},
}

// Lookup reports whether a code is registered, for tooling that lists
// or validates codes.
func Lookup(code string) (Category, bool) {
	t, ok := registry[code]
	return t.Category, ok
}
