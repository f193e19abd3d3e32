// Package errors provides coded, actionable errors for the netsyncd
// command line.
//
// Every error code maps to a category, a short message and a longer detail:
//
//   - config: netsync.json could not be read, parsed or validated
//   - host: the tick loop or a peer connection failed
//   - capture: a traffic capture could not be written or uploaded
//   - cli: a command was used incorrectly
//
// # Usage
//
//	err := errors.New("E121").
//	    WithDetail(`"tickRate" must be positive`).
//	    WithSuggestion("Set tickRate to a duration such as \"16ms\"")
//
//	errors.PrintError(err)
//	// ERROR E121: Invalid configuration value
//	//
//	//   "tickRate" must be positive
//	//
//	//   Hint: Set tickRate to a duration such as "16ms"
package errors
